package dispatch

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"shiftline/internal/domain"
	"shiftline/internal/session"
)

// startReport opens the report wizard with the task catalog as options.
func (d *Dispatcher) startReport(ctx context.Context, actor domain.Profile) error {
	tasks, err := d.Engine.Repo.ListTasks(ctx)
	if err != nil {
		return err
	}
	d.Sessions.Begin(actor.ID, session.KindReport, session.StateChooseTask)

	var b strings.Builder
	b.WriteString(msg(actor.Lang, "choose_task"))
	for i, task := range tasks {
		fmt.Fprintf(&b, "\n%d. %s", i+1, task)
	}
	b.WriteString("\n0. " + msg(actor.Lang, "other_task"))
	d.reply(ctx, actor, b.String())
	return nil
}

func (d *Dispatcher) reportTaskChosen(ctx context.Context, actor domain.Profile, task string) error {
	s, ok := d.Sessions.Get(actor.ID, session.KindReport)
	if !ok || s.State != session.StateChooseTask {
		d.reply(ctx, actor, msg(actor.Lang, "unknown"))
		return nil
	}
	if task == "other" {
		s.State = session.StateOtherTaskName
		d.Sessions.Save(s)
		d.reply(ctx, actor, msg(actor.Lang, "other_task_prompt"))
		return nil
	}
	s.Task = task
	return d.advanceToReviewer(ctx, actor, s)
}

// advanceToReviewer moves the wizard past task selection: employees pick a
// technologist to show the work to, everyone else goes straight to the
// count. No technologists on staff also skips the step.
func (d *Dispatcher) advanceToReviewer(ctx context.Context, actor domain.Profile, s session.Session) error {
	if domain.RoleRank(actor.Role) >= domain.RoleRank(domain.RoleTechnologist) {
		return d.askCount(ctx, actor, s)
	}
	techs, err := d.listTechnologists(ctx)
	if err != nil {
		return err
	}
	if len(techs) == 0 {
		return d.askCount(ctx, actor, s)
	}
	s.State = session.StateSelectReviewer
	d.Sessions.Save(s)

	var b strings.Builder
	b.WriteString(msg(actor.Lang, "select_reviewer"))
	for _, t := range techs {
		fmt.Fprintf(&b, "\n• %s (reviewer:%s)", t.Name, t.ID)
	}
	b.WriteString("\n• " + msg(actor.Lang, "skip_reviewer") + " (reviewer:none)")
	d.reply(ctx, actor, b.String())
	return nil
}

func (d *Dispatcher) reportReviewerChosen(ctx context.Context, actor domain.Profile, reviewerID string) error {
	s, ok := d.Sessions.Get(actor.ID, session.KindReport)
	if !ok || s.State != session.StateSelectReviewer {
		d.reply(ctx, actor, msg(actor.Lang, "unknown"))
		return nil
	}
	if reviewerID != "none" {
		s.ReviewerID = reviewerID
	}
	return d.askCount(ctx, actor, s)
}

func (d *Dispatcher) askCount(ctx context.Context, actor domain.Profile, s session.Session) error {
	s.State = session.StateEnterCount
	d.Sessions.Save(s)
	d.reply(ctx, actor, msg(actor.Lang, "enter_count"))
	return nil
}

// continueReport handles free-text input while the report wizard is active.
func (d *Dispatcher) continueReport(ctx context.Context, actor domain.Profile, s session.Session, text string) error {
	switch s.State {
	case session.StateOtherTaskName:
		return d.reportCustomTask(ctx, actor, s, text)
	case session.StateEnterCount:
		return d.reportCount(ctx, actor, s, text)
	default:
		d.reply(ctx, actor, msg(actor.Lang, "unknown"))
		return nil
	}
}

// reportCustomTask queues the custom name for moderation and continues the
// report with it. The queued proposal is best effort: a duplicate just
// skips the queue.
func (d *Dispatcher) reportCustomTask(ctx context.Context, actor domain.Profile, s session.Session, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		d.reply(ctx, actor, msg(actor.Lang, "other_task_prompt"))
		return nil
	}
	prop, err := d.Engine.SubmitProposal(ctx, actor.ID, name)
	switch {
	case err == nil:
		d.reply(ctx, actor, msg(actor.Lang, "proposal_queued"))
		d.fanOut(ctx, func(p domain.Profile) string {
			return fmt.Sprintf(msg(p.Lang, "proposal_notify"), prop.Name, actor.Name)
		}, func(p domain.Profile) bool {
			return p.ID != actor.ID && d.Engine.HasPermission(p, domain.RoleTechnologist)
		})
	case isValidation(err):
		// already in the catalog; the report proceeds with the name as-is
	default:
		return err
	}
	s.Task = name
	return d.advanceToReviewer(ctx, actor, s)
}

// reportCount parses the count and finalizes the report. Bad input keeps
// the wizard on the same step.
func (d *Dispatcher) reportCount(ctx context.Context, actor domain.Profile, s session.Session, text string) error {
	count, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || count < 1 {
		d.reply(ctx, actor, msg(actor.Lang, "bad_count"))
		return nil
	}
	entry := domain.ReportEntry{
		ReportedAt:  d.Engine.Now().UTC().Format(time.RFC3339),
		Name:        actor.Name,
		Role:        actor.Role,
		Task:        s.Task,
		Count:       count,
		ReviewerID:  s.ReviewerID,
		SubmitterID: actor.ID,
	}
	if _, err := d.Ledger.Append(ctx, entry); err != nil {
		return err
	}
	d.Sessions.End(actor.ID, session.KindReport)
	d.reply(ctx, actor, msg(actor.Lang, "report_saved"))
	if s.ReviewerID != "" {
		if reviewer, err := d.Engine.Repo.GetProfile(ctx, s.ReviewerID); err == nil {
			note := fmt.Sprintf("%s: %s ×%d", actor.Name, s.Task, count)
			d.reply(ctx, reviewer, note)
		}
	}
	return nil
}

func (d *Dispatcher) listTechnologists(ctx context.Context) ([]domain.Profile, error) {
	profiles, err := d.Engine.Repo.ListProfiles(ctx, false)
	if err != nil {
		return nil, err
	}
	var techs []domain.Profile
	for _, p := range profiles {
		if p.Role == domain.RoleTechnologist {
			techs = append(techs, p)
		}
	}
	return techs, nil
}

func (d *Dispatcher) showTasks(ctx context.Context, actor domain.Profile) error {
	tasks, err := d.Engine.Repo.ListTasks(ctx)
	if err != nil {
		return err
	}
	var b strings.Builder
	for i, task := range tasks {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d. %s", i+1, task)
	}
	d.reply(ctx, actor, b.String())
	return nil
}
