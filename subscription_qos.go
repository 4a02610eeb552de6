package dispatch

import (
	"fmt"
	"time"
)

// QosKind identifies which SubscriptionQos variant is in effect.
type QosKind uint8

const (
	QosPeriodic QosKind = iota
	QosOnChange
	QosOnChangeWithKeepAlive
)

func (k QosKind) String() string {
	switch k {
	case QosPeriodic:
		return "Periodic"
	case QosOnChange:
		return "OnChange"
	case QosOnChangeWithKeepAlive:
		return "OnChangeWithKeepAlive"
	default:
		return "Unknown"
	}
}

// SubscriptionQos is a tagged sum of the three scheduling disciplines a
// subscription can request. ValidityMs == 0 means infinite validity.
type SubscriptionQos struct {
	Kind QosKind

	ValidityMs uint64

	// Periodic
	PeriodMs uint64

	// OnChange / OnChangeWithKeepAlive
	MinIntervalMs uint64

	// OnChangeWithKeepAlive only
	MaxIntervalMs uint64

	// Periodic / OnChangeWithKeepAlive; 0 disables alerting
	AlertAfterIntervalMs uint64
}

// PeriodicQos builds a Periodic SubscriptionQos.
func PeriodicQos(validityMs, periodMs, alertAfterIntervalMs uint64) SubscriptionQos {
	return SubscriptionQos{Kind: QosPeriodic, ValidityMs: validityMs, PeriodMs: periodMs, AlertAfterIntervalMs: alertAfterIntervalMs}
}

// OnChangeQos builds an OnChange SubscriptionQos.
func OnChangeQos(validityMs, minIntervalMs uint64) SubscriptionQos {
	return SubscriptionQos{Kind: QosOnChange, ValidityMs: validityMs, MinIntervalMs: minIntervalMs}
}

// OnChangeWithKeepAliveQos builds an OnChangeWithKeepAlive SubscriptionQos.
func OnChangeWithKeepAliveQos(validityMs, minIntervalMs, maxIntervalMs, alertAfterIntervalMs uint64) SubscriptionQos {
	return SubscriptionQos{
		Kind:                 QosOnChangeWithKeepAlive,
		ValidityMs:           validityMs,
		MinIntervalMs:        minIntervalMs,
		MaxIntervalMs:        maxIntervalMs,
		AlertAfterIntervalMs: alertAfterIntervalMs,
	}
}

// Validate enforces the invariants from the data model: minIntervalMs must
// not exceed maxIntervalMs for OnChangeWithKeepAlive, and Periodic requires
// a positive period.
func (q SubscriptionQos) Validate() error {
	switch q.Kind {
	case QosPeriodic:
		if q.PeriodMs == 0 {
			return fmt.Errorf("subscriptionQos: periodMs must be > 0")
		}
	case QosOnChange:
		// no further constraint
	case QosOnChangeWithKeepAlive:
		if q.MinIntervalMs > q.MaxIntervalMs {
			return fmt.Errorf("subscriptionQos: minIntervalMs (%d) > maxIntervalMs (%d)", q.MinIntervalMs, q.MaxIntervalMs)
		}
	default:
		return fmt.Errorf("subscriptionQos: unknown kind %d", q.Kind)
	}
	return nil
}

// ExpiresAt computes the absolute expiry time given a creation time. A
// ValidityMs of 0 means infinite validity, represented by the zero Time.
func (q SubscriptionQos) ExpiresAt(createdAt time.Time) time.Time {
	if q.ValidityMs == 0 {
		return time.Time{}
	}
	return createdAt.Add(time.Duration(q.ValidityMs) * time.Millisecond)
}

// AlertingEnabled reports whether a missed-publication alert should be armed.
func (q SubscriptionQos) AlertingEnabled() bool {
	return q.AlertAfterIntervalMs > 0
}
