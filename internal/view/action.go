package view

import "strings"

// Action is one member of the fixed sum of actions parseAction can return.
type Action string

const (
	ActionAccept         Action = "accept"
	ActionReject         Action = "reject"
	ActionRejectAll      Action = "rejectAll"
	ActionRequestChanges Action = "requestChanges"
	ActionViewDetails    Action = "viewDetails"
	ActionViewDiff       Action = "viewDiff"
	ActionCompare        Action = "compare"
	ActionNextFile       Action = "nextFile"
	ActionPrevFile       Action = "prevFile"
	ActionBackToSummary  Action = "backToSummary"
	ActionManualReview   Action = "manualReview"
	ActionNone           Action = "" // unknown key
)

// Context is where in the presentation the action bar is currently shown.
type Context string

const (
	ContextSummary Context = "summary"
	ContextDetail  Context = "detail"
	ContextDiff    Context = "diff"
	ContextCompare Context = "compare"
)

// ActionBarConfig is the state parseAction interprets a keystroke against.
type ActionBarConfig struct {
	Context           Context
	WinnerID          string // empty if no winner
	CurrentIterationID string
	FileIndex         int
	FileCount         int
}

// ParseAction maps one case-insensitive ASCII key to an Action, per the
// keybinding table: "a" accepts the current iteration (or the winner, from
// summary); "x" rejects the current iteration, or rejects all from summary;
// "v" opens the winner's detail view; "d" opens a diff; "c" opens a
// compare view; "r" requests changes; "b"/"q" return to the summary;
// "n"/"p" page through files; "m" marks for manual review. Any other key
// yields ActionNone.
func ParseAction(key string, cfg ActionBarConfig) Action {
	key = strings.ToLower(strings.TrimSpace(key))
	switch key {
	case "a":
		return ActionAccept
	case "x":
		if cfg.Context == ContextSummary {
			return ActionRejectAll
		}
		return ActionReject
	case "v":
		return ActionViewDetails
	case "d":
		return ActionViewDiff
	case "c":
		return ActionCompare
	case "r":
		return ActionRequestChanges
	case "b", "q":
		return ActionBackToSummary
	case "n":
		return ActionNextFile
	case "p":
		return ActionPrevFile
	case "m":
		return ActionManualReview
	default:
		return ActionNone
	}
}
