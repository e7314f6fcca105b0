package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"shiftline/internal/config"
	"shiftline/internal/domain"
	"shiftline/internal/events"
	"shiftline/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Bootstrap seeds the task catalog from config on first run. A non-empty
// catalog is left untouched, so seeding happens exactly once per workspace.
func (e Engine) Bootstrap(ctx context.Context) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	n, err := e.Repo.CountTasksTx(ctx, tx)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	for _, name := range e.Config.Tasks.Seed {
		if err := e.Repo.InsertTaskTx(ctx, tx, name); err != nil {
			return fmt.Errorf("seed task %q: %w", name, err)
		}
	}
	if err := e.Events.Append(ctx, tx, "catalog.seeded", "catalog", "", "system", events.EventPayload{"count": len(e.Config.Tasks.Seed)}); err != nil {
		return err
	}
	return tx.Commit()
}

// EnsureProfile loads the profile for id, creating it on first contact with
// the default employee role. Name and handle are refreshed when they changed
// since the last contact.
func (e Engine) EnsureProfile(ctx context.Context, id, name, handle string) (domain.Profile, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Profile{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProfileTx(ctx, tx, id)
	if err == nil {
		// handle-less events (button callbacks) must not wipe the stored handle
		changed := false
		if name != "" && name != p.Name {
			p.Name = name
			changed = true
		}
		if handle != "" && handle != p.Handle {
			p.Handle = handle
			changed = true
		}
		if changed {
			if err := e.Repo.UpdateProfileTx(ctx, tx, p); err != nil {
				return p, err
			}
			if err := tx.Commit(); err != nil {
				return p, err
			}
		}
		return p, nil
	}
	if err != repo.ErrNotFound {
		return p, err
	}
	p = domain.Profile{
		ID:        id,
		Name:      name,
		Role:      domain.RoleEmployee,
		Lang:      "ru",
		Handle:    handle,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if p.Name == "" {
		p.Name = id
	}
	if err := e.Repo.InsertProfileTx(ctx, tx, p); err != nil {
		return p, err
	}
	if err := e.Events.Append(ctx, tx, "profile.created", "profile", p.ID, p.ID, events.EventPayload{"role": p.Role}); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	return p, nil
}

// SetRole assigns a new role to the target profile. Manager rank required.
func (e Engine) SetRole(ctx context.Context, actorID, targetID, role string) (domain.Profile, error) {
	if !domain.KnownRole(role) {
		return domain.Profile{}, fmt.Errorf("%w: unknown role %q", ErrValidation, role)
	}
	if _, err := e.requireRole(ctx, actorID, domain.RoleManager); err != nil {
		return domain.Profile{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Profile{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProfileTx(ctx, tx, targetID)
	if err != nil {
		return p, err
	}
	from := p.Role
	p.Role = role
	if err := e.Repo.UpdateProfileTx(ctx, tx, p); err != nil {
		return p, err
	}
	if err := e.Events.Append(ctx, tx, "profile.role_set", "profile", p.ID, actorID, events.EventPayload{"from": from, "to": role}); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	return p, nil
}

// SetLanguage switches the profile's interface language.
func (e Engine) SetLanguage(ctx context.Context, userID, lang string) (domain.Profile, error) {
	switch lang {
	case "ru", "uk":
	default:
		return domain.Profile{}, fmt.Errorf("%w: unsupported language %q", ErrValidation, lang)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Profile{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProfileTx(ctx, tx, userID)
	if err != nil {
		return p, err
	}
	p.Lang = lang
	if err := e.Repo.UpdateProfileTx(ctx, tx, p); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	return p, nil
}

// ToggleSummary flips the profile's monthly summary opt-in and returns the
// new value.
func (e Engine) ToggleSummary(ctx context.Context, userID string) (bool, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProfileTx(ctx, tx, userID)
	if err != nil {
		return false, err
	}
	p.SummaryEnabled = !p.SummaryEnabled
	if err := e.Repo.UpdateProfileTx(ctx, tx, p); err != nil {
		return false, err
	}
	if err := e.Events.Append(ctx, tx, "profile.summary_toggled", "profile", p.ID, userID, events.EventPayload{"enabled": p.SummaryEnabled}); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return p.SummaryEnabled, nil
}

// AssignManager links the target profile to a manager profile. An empty
// managerID clears the link. Manager rank required.
func (e Engine) AssignManager(ctx context.Context, actorID, targetID, managerID string) (domain.Profile, error) {
	if _, err := e.requireRole(ctx, actorID, domain.RoleManager); err != nil {
		return domain.Profile{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Profile{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProfileTx(ctx, tx, targetID)
	if err != nil {
		return p, err
	}
	if managerID == "" {
		p.ManagerID = nil
	} else {
		if _, err := e.Repo.GetProfileTx(ctx, tx, managerID); err != nil {
			return p, err
		}
		p.ManagerID = &managerID
	}
	if err := e.Repo.UpdateProfileTx(ctx, tx, p); err != nil {
		return p, err
	}
	if err := e.Events.Append(ctx, tx, "profile.manager_assigned", "profile", p.ID, actorID, events.EventPayload{"manager_id": managerID}); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	return p, nil
}

// HideProfile marks the target profile hidden or visible. Hidden profiles
// drop out of listings and fan-outs but keep their history. Manager rank
// required.
func (e Engine) HideProfile(ctx context.Context, actorID, targetID string, hidden bool) (domain.Profile, error) {
	if _, err := e.requireRole(ctx, actorID, domain.RoleManager); err != nil {
		return domain.Profile{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Profile{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProfileTx(ctx, tx, targetID)
	if err != nil {
		return p, err
	}
	p.Hidden = hidden
	if err := e.Repo.UpdateProfileTx(ctx, tx, p); err != nil {
		return p, err
	}
	if err := e.Events.Append(ctx, tx, "profile.hidden_set", "profile", p.ID, actorID, events.EventPayload{"hidden": hidden}); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	return p, nil
}

// AddTask appends a task to the catalog. Technologist rank required.
func (e Engine) AddTask(ctx context.Context, actorID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: task name must not be empty", ErrValidation)
	}
	if _, err := e.requireRole(ctx, actorID, domain.RoleTechnologist); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	exists, err := e.Repo.HasTaskTx(ctx, tx, name)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: task %q already in catalog", ErrValidation, name)
	}
	if err := e.Repo.InsertTaskTx(ctx, tx, name); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "task.added", "task", name, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// RemoveTask deletes a task from the catalog. Technologist rank required.
func (e Engine) RemoveTask(ctx context.Context, actorID, name string) error {
	if _, err := e.requireRole(ctx, actorID, domain.RoleTechnologist); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Repo.RemoveTaskTx(ctx, tx, name); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "task.removed", "task", name, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// SubmitProposal queues a custom task name for moderation and returns the
// stored proposal. Any profile may submit.
func (e Engine) SubmitProposal(ctx context.Context, submitterID, name string) (domain.PendingProposal, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.PendingProposal{}, fmt.Errorf("%w: task name must not be empty", ErrValidation)
	}
	submitter, err := e.Repo.GetProfile(ctx, submitterID)
	if err != nil {
		return domain.PendingProposal{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.PendingProposal{}, err
	}
	defer tx.Rollback()

	exists, err := e.Repo.HasTaskTx(ctx, tx, name)
	if err != nil {
		return domain.PendingProposal{}, err
	}
	if exists {
		return domain.PendingProposal{}, fmt.Errorf("%w: task %q already in catalog", ErrValidation, name)
	}
	p := domain.PendingProposal{
		ID:            uuid.New().String(),
		Name:          name,
		SubmitterID:   submitter.ID,
		SubmitterName: submitter.Name,
		CreatedAt:     e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertPendingTx(ctx, tx, p); err != nil {
		return p, err
	}
	if err := e.Events.Append(ctx, tx, "proposal.submitted", "proposal", p.ID, submitterID, events.EventPayload{"name": p.Name}); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	return p, nil
}

// ApproveProposal removes the proposal from the queue and adds its name to
// the catalog. The queue delete is the exactly-once guard: a concurrent
// approve or reject of the same id fails with repo.ErrNotFound and changes
// nothing. Technologist rank required.
func (e Engine) ApproveProposal(ctx context.Context, actorID, proposalID string) (domain.PendingProposal, error) {
	if _, err := e.requireRole(ctx, actorID, domain.RoleTechnologist); err != nil {
		return domain.PendingProposal{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.PendingProposal{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetPendingTx(ctx, tx, proposalID)
	if err != nil {
		return p, err
	}
	if err := e.Repo.DeletePendingTx(ctx, tx, proposalID); err != nil {
		return p, err
	}
	if err := e.Repo.InsertTaskTx(ctx, tx, p.Name); err != nil {
		return p, err
	}
	if err := e.Events.Append(ctx, tx, "proposal.approved", "proposal", p.ID, actorID, events.EventPayload{"name": p.Name}); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	return p, nil
}

// RejectProposal removes the proposal from the queue without touching the
// catalog. Technologist rank required.
func (e Engine) RejectProposal(ctx context.Context, actorID, proposalID string) (domain.PendingProposal, error) {
	if _, err := e.requireRole(ctx, actorID, domain.RoleTechnologist); err != nil {
		return domain.PendingProposal{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.PendingProposal{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetPendingTx(ctx, tx, proposalID)
	if err != nil {
		return p, err
	}
	if err := e.Repo.DeletePendingTx(ctx, tx, proposalID); err != nil {
		return p, err
	}
	if err := e.Events.Append(ctx, tx, "proposal.rejected", "proposal", p.ID, actorID, events.EventPayload{"name": p.Name}); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	return p, nil
}

// PublishPost puts a new announcement at the head of the board. Post ids
// are assigned max+1 so newest-first ordering follows the id. Technologist
// rank required.
func (e Engine) PublishPost(ctx context.Context, authorID, text, mediaRef string) (domain.BoardPost, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.BoardPost{}, fmt.Errorf("%w: announcement text must not be empty", ErrValidation)
	}
	author, err := e.requireRole(ctx, authorID, domain.RoleTechnologist)
	if err != nil {
		return domain.BoardPost{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.BoardPost{}, err
	}
	defer tx.Rollback()

	id, err := e.Repo.NextPostIDTx(ctx, tx)
	if err != nil {
		return domain.BoardPost{}, err
	}
	p := domain.BoardPost{
		ID:          id,
		Text:        text,
		Author:      author.Name,
		PublishedOn: e.now().UTC().Format(time.RFC3339),
	}
	if mediaRef != "" {
		p.MediaRef = &mediaRef
	}
	if err := e.Repo.InsertPostTx(ctx, tx, p); err != nil {
		return p, err
	}
	if err := e.Events.Append(ctx, tx, "post.published", "post", fmt.Sprint(p.ID), authorID, events.EventPayload{"author": p.Author}); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	return p, nil
}

// ToggleReaction flips the user's reaction on a post: absent becomes set,
// set becomes absent. Returns the refreshed post and whether the reaction
// is now set. Toggling twice restores the original state.
func (e Engine) ToggleReaction(ctx context.Context, userID string, postID int64, emoji string) (domain.BoardPost, bool, error) {
	if !e.knownEmoji(emoji) {
		return domain.BoardPost{}, false, fmt.Errorf("%w: unsupported reaction %q", ErrValidation, emoji)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.BoardPost{}, false, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetPostTx(ctx, tx, postID); err != nil {
		return domain.BoardPost{}, false, err
	}
	set, err := e.Repo.HasReactionTx(ctx, tx, postID, emoji, userID)
	if err != nil {
		return domain.BoardPost{}, false, err
	}
	if set {
		if err := e.Repo.DeleteReactionTx(ctx, tx, postID, emoji, userID); err != nil {
			return domain.BoardPost{}, false, err
		}
	} else {
		if err := e.Repo.InsertReactionTx(ctx, tx, postID, emoji, userID); err != nil {
			return domain.BoardPost{}, false, err
		}
	}
	if err := e.Events.Append(ctx, tx, "reaction.toggled", "post", fmt.Sprint(postID), userID, events.EventPayload{"emoji": emoji, "set": !set}); err != nil {
		return domain.BoardPost{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return domain.BoardPost{}, false, err
	}
	p, err := e.Repo.GetPost(ctx, postID)
	if err != nil {
		return p, !set, err
	}
	return p, !set, nil
}

func (e Engine) knownEmoji(emoji string) bool {
	if e.Config == nil {
		return false
	}
	for _, known := range e.Config.Board.Emoji {
		if known == emoji {
			return true
		}
	}
	return false
}
