package gate

import (
	"fmt"
	"time"

	"github.com/lbartoszcze/autolife/internal/analysis"
	"github.com/lbartoszcze/autolife/internal/ratelimit"
	"github.com/lbartoszcze/autolife/internal/safety"
)

// #region gate
// Gate evaluates whether a nudge may be dispatched. Checks run in a fixed
// order and the first veto wins: cooldown, daily-limit, no-candidate, safety.
type Gate struct {
	filter *safety.Filter
}

// NewGate creates a gate backed by the given safety filter.
func NewGate(filter *safety.Filter) *Gate {
	if filter == nil {
		filter = safety.Default()
	}
	return &Gate{filter: filter}
}

// Pacing runs the cooldown and daily-limit checks against persisted state.
// It returns nil when both pass.
func (g *Gate) Pacing(st ratelimit.State, agentID string, now time.Time, limits Limits) *VetoSignal {
	// 1. Cooldown since the last accepted dispatch
	if last, ok := st.LastDispatch(agentID); ok && limits.CooldownMinutes > 0 {
		elapsed := now.Sub(last)
		window := time.Duration(limits.CooldownMinutes) * time.Minute
		if elapsed < window {
			return &VetoSignal{
				Type: VetoCooldown,
				Reason: fmt.Sprintf("cooldown: last nudge %s ago, minimum spacing is %dm",
					elapsed.Truncate(time.Second), limits.CooldownMinutes),
			}
		}
	}

	// 2. Daily cap for the current UTC day
	day := ratelimit.DayKey(now)
	if count := st.CountOn(agentID, day); count >= limits.MaxPerDay {
		return &VetoSignal{
			Type:   VetoDailyLimit,
			Reason: fmt.Sprintf("daily-limit: %d of %d nudges already sent on %s", count, limits.MaxPerDay, day),
		}
	}
	return nil
}

// Plan runs the no-candidate and safety checks on the selected plan.
// It returns nil when the plan may be surfaced.
func (g *Gate) Plan(selected *analysis.InterventionPlan) *VetoSignal {
	// 3. A usable candidate exists
	if selected == nil || !analysis.Usable(*selected) {
		return &VetoSignal{
			Type:   VetoNoCandidate,
			Reason: "no-candidate: intervention stage produced no usable plan",
		}
	}

	// 4. Safety deny list over action and rationale
	if blocked, rule := g.filter.Blocked(selected.Action, selected.Rationale); blocked {
		return &VetoSignal{
			Type:   VetoSafety,
			Reason: "safety: selected plan blocked by safety policy",
			Rule:   rule,
		}
	}
	return nil
}

// #endregion gate
