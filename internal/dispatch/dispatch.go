package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"shiftline/internal/config"
	"shiftline/internal/domain"
	"shiftline/internal/engine"
	"shiftline/internal/ledger"
	"shiftline/internal/session"
	"shiftline/internal/transport"
)

// Event is one inbound interaction from a user.
type Event struct {
	UserID   string `json:"user_id"`
	Name     string `json:"name,omitempty"`
	Handle   string `json:"handle,omitempty"`
	Text     string `json:"text,omitempty"`
	Callback string `json:"callback,omitempty"`
	MediaRef string `json:"media_ref,omitempty"`
}

// Dispatcher routes inbound events to commands and wizard steps. All state
// changes go through the engine and ledger; replies and fan-outs go through
// the transport and are best effort.
type Dispatcher struct {
	Engine   engine.Engine
	Ledger   ledger.Service
	Sessions *session.Manager
	Out      transport.Transport
	Config   *config.Config
	Log      *log.Logger
}

func New(eng engine.Engine, led ledger.Service, out transport.Transport, cfg *config.Config, logger *log.Logger) *Dispatcher {
	return &Dispatcher{
		Engine:   eng,
		Ledger:   led,
		Sessions: session.NewManager(cfg.Sessions.Policy),
		Out:      out,
		Config:   cfg,
		Log:      logger,
	}
}

// Handle processes one inbound event. The profile is created or refreshed
// on every contact before anything else runs.
func (d *Dispatcher) Handle(ctx context.Context, ev Event) error {
	if ev.UserID == "" {
		return fmt.Errorf("%w: user id is required", engine.ErrValidation)
	}
	actor, err := d.Engine.EnsureProfile(ctx, ev.UserID, ev.Name, ev.Handle)
	if err != nil {
		return err
	}
	if ev.Callback != "" {
		return d.handleCallback(ctx, actor, ev.Callback)
	}
	if strings.HasPrefix(ev.Text, "/") {
		return d.handleCommand(ctx, actor, ev)
	}
	if s, ok := d.Sessions.Active(actor.ID); ok {
		return d.continueWizard(ctx, actor, s, ev)
	}
	d.reply(ctx, actor, msg(actor.Lang, "unknown"))
	return nil
}

func (d *Dispatcher) handleCommand(ctx context.Context, actor domain.Profile, ev Event) error {
	fields := strings.Fields(ev.Text)
	cmd := fields[0]
	switch cmd {
	case "/start", "/help":
		d.reply(ctx, actor, msg(actor.Lang, "help"))
		return nil
	case "/report":
		return d.startReport(ctx, actor)
	case "/post":
		return d.startPost(ctx, actor)
	case "/skip":
		if s, ok := d.Sessions.Get(actor.ID, session.KindPost); ok && s.State == session.StateAttachMedia {
			return d.finishPost(ctx, actor, s)
		}
		d.reply(ctx, actor, msg(actor.Lang, "unknown"))
		return nil
	case "/cancel":
		if _, ok := d.Sessions.Active(actor.ID); !ok {
			d.reply(ctx, actor, msg(actor.Lang, "nothing_to_cancel"))
			return nil
		}
		d.Sessions.EndAll(actor.ID)
		d.reply(ctx, actor, msg(actor.Lang, "canceled"))
		return nil
	case "/board":
		return d.showBoard(ctx, actor)
	case "/tasks":
		return d.showTasks(ctx, actor)
	case "/pending":
		return d.showPending(ctx, actor)
	case "/users":
		return d.showUsers(ctx, actor)
	case "/zvit":
		return d.showLedgerTotals(ctx, actor)
	case "/summary":
		on, err := d.Engine.ToggleSummary(ctx, actor.ID)
		if err != nil {
			return err
		}
		key := "summary_off"
		if on {
			key = "summary_on"
		}
		d.reply(ctx, actor, msg(actor.Lang, key))
		return nil
	case "/lang":
		if len(fields) < 2 {
			d.reply(ctx, actor, msg(actor.Lang, "unknown"))
			return nil
		}
		p, err := d.Engine.SetLanguage(ctx, actor.ID, fields[1])
		if err != nil {
			d.replyError(ctx, actor, err)
			return nil
		}
		d.reply(ctx, p, msg(p.Lang, "lang_set"))
		return nil
	default:
		d.reply(ctx, actor, msg(actor.Lang, "unknown"))
		return nil
	}
}

func (d *Dispatcher) handleCallback(ctx context.Context, actor domain.Profile, data string) error {
	parts := strings.SplitN(data, ":", 2)
	arg := ""
	if len(parts) == 2 {
		arg = parts[1]
	}
	switch parts[0] {
	case "task":
		return d.reportTaskChosen(ctx, actor, arg)
	case "reviewer":
		return d.reportReviewerChosen(ctx, actor, arg)
	case "approve":
		return d.approve(ctx, actor, arg)
	case "reject":
		return d.reject(ctx, actor, arg)
	case "react":
		return d.react(ctx, actor, arg)
	default:
		d.reply(ctx, actor, msg(actor.Lang, "unknown"))
		return nil
	}
}

func (d *Dispatcher) continueWizard(ctx context.Context, actor domain.Profile, s session.Session, ev Event) error {
	switch s.Kind {
	case session.KindReport:
		return d.continueReport(ctx, actor, s, ev.Text)
	case session.KindPost:
		return d.continuePost(ctx, actor, s, ev)
	default:
		d.Sessions.EndAll(actor.ID)
		d.reply(ctx, actor, msg(actor.Lang, "unknown"))
		return nil
	}
}

// reply delivers a message to the acting user, logging a failure instead of
// propagating it.
func (d *Dispatcher) reply(ctx context.Context, to domain.Profile, text string) {
	if err := d.Out.SendText(ctx, to.ID, text); err != nil && d.Log != nil {
		d.Log.Printf("dispatch: reply to %s failed: %v", to.ID, err)
	}
}

// replyError turns validation and permission failures into user-facing
// messages; anything else propagates nothing and is only logged.
func (d *Dispatcher) replyError(ctx context.Context, to domain.Profile, err error) {
	switch {
	case isValidation(err):
		d.reply(ctx, to, err.Error())
	case isPermission(err):
		d.reply(ctx, to, msg(to.Lang, "no_permission"))
	default:
		if d.Log != nil {
			d.Log.Printf("dispatch: operation for %s failed: %v", to.ID, err)
		}
	}
}

// fanOut delivers a message to each profile for which the filter returns
// true. The message is rendered per recipient so it can follow their
// language. A failed delivery is logged per recipient and never stops the
// loop.
func (d *Dispatcher) fanOut(ctx context.Context, render func(domain.Profile) string, filter func(domain.Profile) bool) {
	profiles, err := d.Engine.Repo.ListProfiles(ctx, false)
	if err != nil {
		if d.Log != nil {
			d.Log.Printf("dispatch: fan-out listing failed: %v", err)
		}
		return
	}
	for _, p := range profiles {
		if filter != nil && !filter(p) {
			continue
		}
		if err := d.Out.SendText(ctx, p.ID, render(p)); err != nil && d.Log != nil {
			d.Log.Printf("dispatch: fan-out to %s failed: %v", p.ID, err)
		}
	}
}

func isValidation(err error) bool { return errors.Is(err, engine.ErrValidation) }

func isPermission(err error) bool { return errors.Is(err, engine.ErrPermissionDenied) }

// preview truncates text to at most n runes for fan-out notifications.
func preview(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n]) + "…"
}
