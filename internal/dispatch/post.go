package dispatch

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"shiftline/internal/domain"
	"shiftline/internal/session"
)

const previewRunes = 100

// startPost opens the announcement wizard. The permission is checked here so
// employees never enter the flow.
func (d *Dispatcher) startPost(ctx context.Context, actor domain.Profile) error {
	if !d.Engine.HasPermission(actor, domain.RoleTechnologist) {
		d.reply(ctx, actor, msg(actor.Lang, "no_permission"))
		return nil
	}
	d.Sessions.Begin(actor.ID, session.KindPost, session.StateEnterText)
	d.reply(ctx, actor, msg(actor.Lang, "post_text_prompt"))
	return nil
}

func (d *Dispatcher) continuePost(ctx context.Context, actor domain.Profile, s session.Session, ev Event) error {
	switch s.State {
	case session.StateEnterText:
		text := strings.TrimSpace(ev.Text)
		if text == "" {
			d.reply(ctx, actor, msg(actor.Lang, "post_text_prompt"))
			return nil
		}
		s.Draft = text
		s.State = session.StateAttachMedia
		d.Sessions.Save(s)
		d.reply(ctx, actor, msg(actor.Lang, "post_media_prompt"))
		return nil
	case session.StateAttachMedia:
		if ev.MediaRef == "" {
			d.reply(ctx, actor, msg(actor.Lang, "post_media_prompt"))
			return nil
		}
		s.MediaRef = ev.MediaRef
		return d.finishPost(ctx, actor, s)
	default:
		d.reply(ctx, actor, msg(actor.Lang, "unknown"))
		return nil
	}
}

// finishPost publishes the drafted announcement and fans a preview out to
// every visible profile.
func (d *Dispatcher) finishPost(ctx context.Context, actor domain.Profile, s session.Session) error {
	post, err := d.Engine.PublishPost(ctx, actor.ID, s.Draft, s.MediaRef)
	if err != nil {
		d.replyError(ctx, actor, err)
		return nil
	}
	d.Sessions.End(actor.ID, session.KindPost)
	d.reply(ctx, actor, msg(actor.Lang, "post_published"))
	note := fmt.Sprintf("📌 %s: %s", post.Author, preview(post.Text, previewRunes))
	d.fanOut(ctx, func(domain.Profile) string { return note }, func(p domain.Profile) bool { return p.ID != actor.ID })
	return nil
}

func (d *Dispatcher) showBoard(ctx context.Context, actor domain.Profile) error {
	posts, err := d.Engine.Repo.ListPosts(ctx)
	if err != nil {
		return err
	}
	if len(posts) == 0 {
		d.reply(ctx, actor, msg(actor.Lang, "board_empty"))
		return nil
	}
	var b strings.Builder
	for i, p := range posts {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "#%d %s — %s\n%s", p.ID, p.Author, p.PublishedOn, p.Text)
		if counts := reactionLine(p, d.Config.Board.Emoji); counts != "" {
			b.WriteString("\n" + counts)
		}
	}
	d.reply(ctx, actor, b.String())
	return nil
}

// react handles "react" callbacks with "<post id>:<emoji>" payloads.
func (d *Dispatcher) react(ctx context.Context, actor domain.Profile, arg string) error {
	parts := strings.SplitN(arg, ":", 2)
	if len(parts) != 2 {
		d.reply(ctx, actor, msg(actor.Lang, "unknown"))
		return nil
	}
	postID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		d.reply(ctx, actor, msg(actor.Lang, "unknown"))
		return nil
	}
	post, _, err := d.Engine.ToggleReaction(ctx, actor.ID, postID, parts[1])
	if err != nil {
		d.replyError(ctx, actor, err)
		return nil
	}
	d.reply(ctx, actor, reactionLine(post, d.Config.Board.Emoji))
	return nil
}

// reactionLine renders non-zero reaction counts in the configured emoji
// order.
func reactionLine(p domain.BoardPost, emoji []string) string {
	var parts []string
	for _, e := range emoji {
		if n := p.ReactionCount(e); n > 0 {
			parts = append(parts, fmt.Sprintf("%s %d", e, n))
		}
	}
	return strings.Join(parts, "  ")
}
