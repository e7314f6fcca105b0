package dispatch

import (
	"context"
	"fmt"
	"strings"

	"shiftline/internal/domain"
)

func (d *Dispatcher) showPending(ctx context.Context, actor domain.Profile) error {
	if !d.Engine.HasPermission(actor, domain.RoleTechnologist) {
		d.reply(ctx, actor, msg(actor.Lang, "no_permission"))
		return nil
	}
	pending, err := d.Engine.Repo.ListPending(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		d.reply(ctx, actor, msg(actor.Lang, "pending_empty"))
		return nil
	}
	var b strings.Builder
	for i, p := range pending {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s — %s (approve:%s / reject:%s)", p.Name, p.SubmitterName, p.ID, p.ID)
	}
	d.reply(ctx, actor, b.String())
	return nil
}

func (d *Dispatcher) approve(ctx context.Context, actor domain.Profile, proposalID string) error {
	prop, err := d.Engine.ApproveProposal(ctx, actor.ID, proposalID)
	if err != nil {
		d.replyError(ctx, actor, err)
		return nil
	}
	d.notifySubmitter(ctx, prop, "approved_notify")
	return nil
}

func (d *Dispatcher) reject(ctx context.Context, actor domain.Profile, proposalID string) error {
	prop, err := d.Engine.RejectProposal(ctx, actor.ID, proposalID)
	if err != nil {
		d.replyError(ctx, actor, err)
		return nil
	}
	d.notifySubmitter(ctx, prop, "rejected_notify")
	return nil
}

// showUsers lists visible profiles with their roles. Manager rank required.
func (d *Dispatcher) showUsers(ctx context.Context, actor domain.Profile) error {
	if !d.Engine.HasPermission(actor, domain.RoleManager) {
		d.reply(ctx, actor, msg(actor.Lang, "no_permission"))
		return nil
	}
	profiles, err := d.Engine.Repo.ListProfiles(ctx, false)
	if err != nil {
		return err
	}
	var b strings.Builder
	b.WriteString(msg(actor.Lang, "users_header"))
	for _, p := range profiles {
		fmt.Fprintf(&b, "\n• %s — %s", p.Name, p.Role)
	}
	d.reply(ctx, actor, b.String())
	return nil
}

// showLedgerTotals renders running ledger totals. Technologist rank required.
func (d *Dispatcher) showLedgerTotals(ctx context.Context, actor domain.Profile) error {
	if !d.Engine.HasPermission(actor, domain.RoleTechnologist) {
		d.reply(ctx, actor, msg(actor.Lang, "no_permission"))
		return nil
	}
	entries, err := d.Ledger.AllEntries(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		d.reply(ctx, actor, msg(actor.Lang, "ledger_empty"))
		return nil
	}
	total := 0
	names := map[string]struct{}{}
	for _, e := range entries {
		total += e.Count
		names[e.Name] = struct{}{}
	}
	d.reply(ctx, actor, fmt.Sprintf(msg(actor.Lang, "zvit_totals"), total, len(entries), len(names)))
	return nil
}

func (d *Dispatcher) notifySubmitter(ctx context.Context, prop domain.PendingProposal, key string) {
	submitter, err := d.Engine.Repo.GetProfile(ctx, prop.SubmitterID)
	if err != nil {
		if d.Log != nil {
			d.Log.Printf("dispatch: submitter %s lookup failed: %v", prop.SubmitterID, err)
		}
		return
	}
	d.reply(ctx, submitter, fmt.Sprintf(msg(submitter.Lang, key), prop.Name))
}
