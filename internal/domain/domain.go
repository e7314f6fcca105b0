package domain

import "strconv"

// Role names in permission rank order.
const (
	RoleEmployee     = "employee"
	RoleTechnologist = "technologist"
	RoleManager      = "manager"
)

// RoleRank returns the numeric rank of a role within the fixed total order
// employee < technologist < manager. Unknown roles rank below employee.
func RoleRank(role string) int {
	switch role {
	case RoleEmployee:
		return 1
	case RoleTechnologist:
		return 2
	case RoleManager:
		return 3
	default:
		return 0
	}
}

// KnownRole reports whether role belongs to the defined set.
func KnownRole(role string) bool {
	return RoleRank(role) > 0
}

type Profile struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Role           string  `json:"role" enum:"employee,technologist,manager"`
	Superadmin     bool    `json:"superadmin,omitempty"`
	Lang           string  `json:"lang"`
	SummaryEnabled bool    `json:"summary_enabled"`
	ManagerID      *string `json:"manager_id,omitempty"`
	Handle         string  `json:"handle,omitempty"`
	Hidden         bool    `json:"hidden,omitempty"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
}

type PendingProposal struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	SubmitterID   string `json:"submitter_id"`
	SubmitterName string `json:"submitter_name"`
	CreatedAt     string `json:"created_at" format:"date-time"`
}

// ReportEntry is one immutable row of the report ledger. The field order
// matches the six-column export schema: date, name, role, task, count,
// reviewer.
type ReportEntry struct {
	ID          int64  `json:"id"`
	ReportedAt  string `json:"reported_at" format:"date-time"`
	Name        string `json:"name"`
	Role        string `json:"role"`
	Task        string `json:"task"`
	Count       int    `json:"count"`
	ReviewerID  string `json:"reviewer_id,omitempty"`
	SubmitterID string `json:"submitter_id,omitempty"`
}

// Row returns the entry as the six-column mirror row.
func (r ReportEntry) Row() []string {
	return []string{r.ReportedAt, r.Name, r.Role, r.Task, strconv.Itoa(r.Count), r.ReviewerID}
}

type BoardPost struct {
	ID          int64               `json:"id"`
	Text        string              `json:"text"`
	Author      string              `json:"author"`
	PublishedOn string              `json:"published_on"`
	MediaRef    *string             `json:"media_ref,omitempty"`
	Reactions   map[string][]string `json:"reactions,omitempty"`
}

// ReactionCount returns the cardinality of one emoji's reactor set.
func (p BoardPost) ReactionCount(emoji string) int {
	return len(p.Reactions[emoji])
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
