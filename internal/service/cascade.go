package service

import (
	"context"
	"log/slog"
	"regexp"

	"github.com/webitel/im-notification-service/internal/domain/errs"
	"github.com/webitel/im-notification-service/internal/domain/event"
	"github.com/webitel/im-notification-service/internal/domain/identity"
	"github.com/webitel/im-notification-service/internal/domain/model"
	"github.com/webitel/im-notification-service/internal/service/dto"
	"github.com/webitel/im-notification-service/internal/store"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/multierr"
)

var mentionToken = regexp.MustCompile(`@([A-Za-z0-9_.]{1,64})`)

// Cascade removes the records that reference a deleted domain entity. Each category is one
// query; categories run independently and their failures are aggregated.
type Cascade struct {
	repo   store.Repository
	dir    Directory
	pusher Pusher
	logger *slog.Logger
}

func NewCascade(repo store.Repository, dir Directory, pusher Pusher, logger *slog.Logger) *Cascade {
	return &Cascade{repo: repo, dir: dir, pusher: pusher, logger: logger}
}

// SourceDeleted handles notification.source.deleted. A partial failure is returned as a
// transient error; every category tolerates zero matches, so a retry is safe.
func (c *Cascade) SourceDeleted(ctx context.Context, ev *dto.SourceDeleted) error {
	var err error
	switch {
	case !ev.NotificationID.IsZero() || ev.Type == dto.SourceNotification:
		err = c.direct(ctx, ev)
	case ev.Type == dto.SourcePost:
		err = c.post(ctx, ev)
	case ev.Type == dto.SourceComment || ev.Type == dto.SourceReply:
		err = c.comment(ctx, ev)
	case ev.Type == dto.SourceMention:
		err = c.mention(ctx, ev)
	case ev.Type == dto.SourcePostReaction:
		err = c.reaction(ctx, model.TypePostReaction, store.FieldPost, ev.PostID, ev)
	case ev.Type == dto.SourceCommentReaction:
		err = c.reaction(ctx, model.TypeCommentReaction, store.FieldComment, ev.CommentID, ev)
	case ev.Type == dto.SourceFollow:
		err = c.follow(ctx, ev)
	case ev.Type == dto.SourceMessage:
		err = c.message(ctx, ev)
	default:
		return errs.Malformed("unknown source type %q", ev.Type)
	}

	if err == nil || errs.IsTransient(err) {
		return err
	}
	for _, e := range multierr.Errors(err) {
		if errs.IsTransient(e) {
			return errs.Transient(err)
		}
	}
	return err
}

func (c *Cascade) direct(ctx context.Context, ev *dto.SourceDeleted) error {
	id, err := primitive.ObjectIDFromHex(ev.NotificationID.String())
	if err != nil {
		return errs.Malformed("notification id %q: %v", ev.NotificationID, err)
	}
	return c.purge(ctx, "notification", store.Filter{IDs: []primitive.ObjectID{id}},
		model.DeletedPayload{Type: dto.SourceNotification})
}

// post deletes everything referencing the post, then cascades into its comments.
func (c *Cascade) post(ctx context.Context, ev *dto.SourceDeleted) error {
	postID := ev.PostID.String()
	if postID == "" {
		return errs.Malformed("post deletion without postId")
	}

	var err error
	comments, derr := c.repo.Distinct(ctx, store.FieldComment, store.Filter{All: []store.Match{store.Eq(store.FieldPost, postID)}})
	err = multierr.Append(err, derr)
	comments = union(comments, identity.Strings(ev.CommentIDs))

	err = multierr.Append(err, c.purge(ctx, "post",
		store.Filter{All: []store.Match{store.Eq(store.FieldPost, postID)}},
		model.DeletedPayload{Type: dto.SourcePost, PostID: postID}))

	for _, cid := range comments {
		err = multierr.Append(err, c.commentTree(ctx, cid, postID))
	}
	err = multierr.Append(err, c.mentionText(ctx, ev, store.FieldPost, postID))
	return err
}

func (c *Cascade) comment(ctx context.Context, ev *dto.SourceDeleted) error {
	commentID := ev.CommentID.String()
	if commentID == "" {
		return errs.Malformed("%s deletion without commentId", ev.Type)
	}
	return multierr.Append(
		c.commentTree(ctx, commentID, ev.PostID.String()),
		c.mentionText(ctx, ev, store.FieldComment, commentID),
	)
}

// commentTree removes a comment and its direct replies: their COMMENT_ADDED, COMMENT_REACTION
// and USER_MENTIONED records. Deeper replies are not followed.
func (c *Cascade) commentTree(ctx context.Context, commentID, postID string) error {
	var err error

	replies, derr := c.repo.Distinct(ctx, store.FieldComment, store.Filter{
		Types: []model.NotificationType{model.TypeCommentAdded},
		All:   []store.Match{store.Eq(store.FieldParentComment, commentID)},
	})
	err = multierr.Append(err, derr)
	tree := union([]string{commentID}, replies)

	payload := model.DeletedPayload{Type: dto.SourceComment, CommentID: commentID, PostID: postID}

	categories := []struct {
		name string
		f    store.Filter
	}{
		{"comment_added", store.Filter{
			Types: []model.NotificationType{model.TypeCommentAdded},
			Any:   []store.Match{store.Eq(store.FieldComment, commentID), store.Eq(store.FieldParentComment, commentID)},
		}},
		{"comment_reaction", store.Filter{
			Types: []model.NotificationType{model.TypeCommentReaction},
			Any:   []store.Match{store.Eq(store.FieldComment, tree...), store.Eq(store.FieldParentComment, commentID)},
		}},
		{"comment_mention", store.Filter{
			Types: []model.NotificationType{model.TypeUserMentioned},
			Any:   []store.Match{store.Eq(store.FieldComment, tree...), store.Eq(store.FieldParentComment, commentID)},
		}},
	}
	for _, cat := range categories {
		err = multierr.Append(err, c.purge(ctx, cat.name, cat.f, payload))
	}
	return err
}

func (c *Cascade) mention(ctx context.Context, ev *dto.SourceDeleted) error {
	field, entity := store.FieldComment, ev.CommentID.String()
	if entity == "" {
		field, entity = store.FieldPost, ev.PostID.String()
	}
	if entity == "" {
		return errs.Malformed("mention deletion without postId or commentId")
	}

	f := store.Filter{Types: []model.NotificationType{model.TypeUserMentioned}}
	if field == store.FieldComment {
		f.Any = []store.Match{store.Eq(store.FieldComment, entity), store.Eq(store.FieldParentComment, entity)}
	} else {
		f.All = []store.Match{store.Eq(store.FieldPost, entity)}
	}

	return multierr.Append(
		c.purge(ctx, "mention", f, deletedFor(ev, dto.SourceMention)),
		c.mentionText(ctx, ev, field, entity),
	)
}

// mentionText is the second mention pass: @username tokens of the deleted text, resolved to
// recipients, addressed by the author, referencing the entity or nothing at all.
func (c *Cascade) mentionText(ctx context.Context, ev *dto.SourceDeleted, field store.Field, entity string) error {
	author := ev.FromUserID.String()
	if ev.Text == "" || author == "" {
		return nil
	}
	names := mentionedUsernames(ev.Text)
	if len(names) == 0 {
		return nil
	}

	users, err := c.dir.UsersByName(ctx, names)
	if err != nil {
		return err
	}
	recipients := make([]string, 0, len(users))
	for _, u := range users {
		if u.ID != "" && u.ID != author {
			recipients = append(recipients, u.ID)
		}
	}
	if len(recipients) == 0 {
		return nil
	}

	// A record tied to some other entity is never matched.
	scope := []store.Match{{Field: field, Values: []string{entity}, OrMissing: true}}
	if field == store.FieldComment {
		scope = append(scope, store.Match{Field: store.FieldPost, Values: identity.Strings([]identity.ID{ev.PostID}), OrMissing: true})
	} else {
		scope = append(scope, store.Match{Field: store.FieldComment, OrMissing: true})
	}

	return c.purge(ctx, "mention_text", store.Filter{
		Types: []model.NotificationType{model.TypeUserMentioned},
		All: append([]store.Match{
			store.Eq(store.FieldToUser, recipients...),
			store.Eq(store.FieldFromUser, author),
		}, scope...),
	}, deletedFor(ev, dto.SourceMention))
}

// reaction removes one actor's reaction record on a target, including the follower fan-out
// records of a post reaction when the owner is known.
func (c *Cascade) reaction(ctx context.Context, t model.NotificationType, field store.Field, target identity.ID, ev *dto.SourceDeleted) error {
	actor := ev.FromUserID.String()
	if target.IsZero() || actor == "" {
		return errs.Malformed("%s deletion needs fromUserId and %s", ev.Type, field)
	}

	f := store.Filter{
		Types: []model.NotificationType{t},
		All:   []store.Match{store.Eq(store.FieldFromUser, actor), store.Eq(field, target.String())},
	}
	if to := ev.ToUserID.String(); to != "" {
		f.Any = []store.Match{store.Eq(store.FieldToUser, to)}
		if t == model.TypePostReaction {
			f.Any = append(f.Any, store.Eq(store.FieldOwner, to))
		}
	}
	return c.purge(ctx, ev.Type, f, deletedFor(ev, ev.Type))
}

func (c *Cascade) follow(ctx context.Context, ev *dto.SourceDeleted) error {
	to := ev.ToUserID.String()
	followers := identity.Strings([]identity.ID{ev.FromUserID, ev.FollowerID})
	if to == "" || len(followers) == 0 {
		return errs.Malformed("follow deletion needs toUserId and fromUserId or followerId")
	}
	return c.purge(ctx, "follow", store.Filter{
		Types: []model.NotificationType{model.TypeFollowedUser},
		All:   []store.Match{store.Eq(store.FieldToUser, to)},
		Any:   []store.Match{store.Eq(store.FieldFromUser, followers...), store.Eq(store.FieldFollower, followers...)},
	}, deletedFor(ev, dto.SourceFollow))
}

func (c *Cascade) message(ctx context.Context, ev *dto.SourceDeleted) error {
	if ev.MessageID.IsZero() {
		return errs.Malformed("message deletion without messageId")
	}
	return c.purge(ctx, "message", store.Filter{
		Types: []model.NotificationType{model.TypeMessageReceived},
		All:   []store.Match{store.Eq(store.FieldMessage, ev.MessageID.String())},
	}, deletedFor(ev, dto.SourceMessage))
}

// purge deletes one category and tells each affected recipient which of its records went
// away. Recipients come from the deleted records, not from the query.
func (c *Cascade) purge(ctx context.Context, category string, f store.Filter, payload model.DeletedPayload) error {
	deleted, err := c.repo.FindAndDelete(ctx, f)
	if err != nil {
		c.logger.WarnContext(ctx, "CASCADE_CATEGORY_FAILED", "category", category, "err", err)
		return err
	}
	if len(deleted) == 0 {
		return nil
	}

	byRecipient := make(map[string][]string)
	var order []string
	for _, n := range deleted {
		if _, ok := byRecipient[n.ToUserID]; !ok {
			order = append(order, n.ToUserID)
		}
		byRecipient[n.ToUserID] = append(byRecipient[n.ToUserID], n.ID.Hex())
	}

	for _, userID := range order {
		p := payload
		p.NotificationIDs = byRecipient[userID]
		c.pusher.Push(ctx, event.NewDeleted(userID, &p))
	}

	c.logger.DebugContext(ctx, "CASCADE_CATEGORY_DELETED",
		"category", category,
		"deleted", len(deleted),
		"recipients", len(order),
	)
	return nil
}

func deletedFor(ev *dto.SourceDeleted, t string) model.DeletedPayload {
	return model.DeletedPayload{
		Type:            t,
		PostID:          ev.PostID.String(),
		CommentID:       ev.CommentID.String(),
		ParentCommentID: ev.ParentCommentID.String(),
		MessageID:       ev.MessageID.String(),
		FromUserID:      ev.FromUserID.String(),
	}
}

func mentionedUsernames(text string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, m := range mentionToken.FindAllStringSubmatch(text, -1) {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		out = append(out, m[1])
	}
	return out
}

func union(a, b []string) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string{}, a...), b...) {
		if _, ok := set[s]; ok || s == "" {
			continue
		}
		set[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
