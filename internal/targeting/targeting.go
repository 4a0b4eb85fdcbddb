// Package targeting decides whether a request matches a campaign's targeting
// rules. Evaluation is pure and safe to call from any goroutine.
package targeting

import (
	"strings"
	"time"

	"github.com/headline-goat/popup-goat/internal/store"
)

// RequestContext is the page-view snapshot a decision is made against.
type RequestContext struct {
	URL         string
	ContentID   int64
	ContentType string
	LoggedIn    bool
	Roles       []string
	Returning   bool
	DeviceType  string
	Browser     string
	Now         time.Time
}

type Axis string

const (
	AxisNone     Axis = ""
	AxisPage     Axis = "page"
	AxisUser     Axis = "user"
	AxisDevice   Axis = "device"
	AxisSchedule Axis = "schedule"
)

// Evaluate reports whether rc satisfies every axis of rules.
func Evaluate(rules store.TargetingRules, rc RequestContext) bool {
	ok, _ := Explain(rules, rc)
	return ok
}

// Explain is Evaluate plus the first axis that failed. Axes are checked in
// page, user, device, schedule order.
func Explain(rules store.TargetingRules, rc RequestContext) (bool, Axis) {
	if !matchPage(rules.Page, rc) {
		return false, AxisPage
	}
	if !matchUser(rules.User, rc) {
		return false, AxisUser
	}
	if !matchDevice(rules.Device, rc) {
		return false, AxisDevice
	}
	if !matchSchedule(rules.Schedule, rc.Now) {
		return false, AxisSchedule
	}
	return true, AxisNone
}

// matchPage applies includes first, then excludes; an exclude match always wins.
func matchPage(r *store.PageRules, rc RequestContext) bool {
	if r == nil {
		return true
	}

	if len(r.Include) > 0 {
		included := false
		for _, p := range r.Include {
			if matchPredicate(p, rc) {
				included = true
				break
			}
		}
		if !included {
			return false
		}
	}

	for _, p := range r.Exclude {
		if matchPredicate(p, rc) {
			return false
		}
	}

	return true
}

// matchPredicate requires every field set on p to match.
func matchPredicate(p store.PagePredicate, rc RequestContext) bool {
	if p.URL == "" && p.ContentID == 0 && p.ContentType == "" {
		return false
	}
	if p.URL != "" && !MatchURL(p.URL, rc.URL) {
		return false
	}
	if p.ContentID != 0 && p.ContentID != rc.ContentID {
		return false
	}
	if p.ContentType != "" && !strings.EqualFold(p.ContentType, rc.ContentType) {
		return false
	}
	return true
}

func matchUser(r *store.UserRules, rc RequestContext) bool {
	if r == nil {
		return true
	}

	switch r.LoginState {
	case store.LoginLoggedIn:
		if !rc.LoggedIn {
			return false
		}
	case store.LoginLoggedOut:
		if rc.LoggedIn {
			return false
		}
	}

	if len(r.Roles) > 0 && !intersects(r.Roles, rc.Roles) {
		return false
	}

	switch r.VisitorType {
	case store.VisitorNew:
		if rc.Returning {
			return false
		}
	case store.VisitorReturning:
		if !rc.Returning {
			return false
		}
	}

	return true
}

func matchDevice(r *store.DeviceRules, rc RequestContext) bool {
	if r == nil {
		return true
	}
	if len(r.Types) > 0 && !contains(r.Types, rc.DeviceType) {
		return false
	}
	if len(r.Browsers) > 0 && !contains(r.Browsers, rc.Browser) {
		return false
	}
	return true
}

func matchSchedule(r *store.ScheduleRules, now time.Time) bool {
	if r == nil {
		return true
	}

	loc := time.UTC
	if r.Timezone != "" {
		l, err := time.LoadLocation(r.Timezone)
		if err != nil {
			return false
		}
		loc = l
	}
	local := now.In(loc)

	// YYYY-MM-DD strings order the same way as the dates they name.
	today := local.Format(store.DateLayout)
	if r.StartDate != "" && today < r.StartDate {
		return false
	}
	if r.EndDate != "" && today > r.EndDate {
		return false
	}

	if len(r.Weekdays) > 0 {
		wd := int(local.Weekday())
		found := false
		for _, d := range r.Weekdays {
			if d == wd {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if r.HourFrom != nil || r.HourTo != nil {
		from, to := 0, 23
		if r.HourFrom != nil {
			from = *r.HourFrom
		}
		if r.HourTo != nil {
			to = *r.HourTo
		}
		h := local.Hour()
		if from <= to {
			if h < from || h > to {
				return false
			}
		} else if h < from && h > to {
			return false
		}
	}

	return true
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}

func intersects(a, b []string) bool {
	for _, x := range a {
		if contains(b, x) {
			return true
		}
	}
	return false
}
