package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"progression-engine/config"
	"progression-engine/models"
)

// ActivityType is the event name producers send, e.g. "message_sent".
type ActivityType string

const ActivityDailyLogin ActivityType = "daily_login"

// ActivityEvent is one user action reported by another service.
type ActivityEvent struct {
	UserID     string       `json:"user_id"`
	Type       ActivityType `json:"type"`
	OccurredAt time.Time    `json:"occurred_at"`
}

// ActivityOutcome carries whichever results the event produced.
type ActivityOutcome struct {
	XP    *XPResult    `json:"xp,omitempty"`
	Login *LoginResult `json:"login,omitempty"`
}

// ActivityClassifier turns activity events into XP actions and login events.
type ActivityClassifier struct {
	engine  *Engine
	balance config.Balance
}

// Classify maps an activity type to its XP action. login is true for daily logins.
func (c *ActivityClassifier) Classify(t ActivityType) (action models.XPAction, login bool, err error) {
	name := strings.ToUpper(strings.TrimSpace(string(t)))
	if name == "" {
		return "", false, fmt.Errorf("%w: empty", ErrUnknownActivity)
	}
	action = models.XPAction(name)
	if action == models.ActionStreakReward {
		// only granted through milestones
		return "", false, fmt.Errorf("%w: %s", ErrUnknownActivity, t)
	}
	if _, ok := c.balance.BaseXP(name); !ok {
		return "", false, fmt.Errorf("%w: %s", ErrUnknownActivity, t)
	}
	return action, action == models.ActionDailyLogin, nil
}

// ProcessActivity applies one event. A daily login first moves the streak and
// then earns login XP, unless it was a repeat login on the same day.
func (c *ActivityClassifier) ProcessActivity(ctx context.Context, ev ActivityEvent) (*ActivityOutcome, error) {
	if ev.UserID == "" {
		return nil, fmt.Errorf("%w: missing user id", ErrInvalidOperation)
	}
	action, login, err := c.Classify(ev.Type)
	if err != nil {
		return nil, err
	}

	out := &ActivityOutcome{}
	if login {
		out.Login, err = c.engine.Streaks.TrackDailyLogin(ctx, ev.UserID)
		if err != nil {
			return nil, err
		}
		if out.Login.SameDay {
			return out, nil
		}
	} else if err := c.engine.store.EnsureProgress(ctx, ev.UserID); err != nil {
		return nil, err
	}

	out.XP, err = c.engine.Progression.AddXP(ctx, ev.UserID, action, "")
	if err != nil {
		return nil, err
	}
	return out, nil
}
