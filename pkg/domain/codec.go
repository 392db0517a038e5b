package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Wire envelopes for persisting and replaying updates. The update history
// stores every update in this encoding; decoding an envelope produced by an
// older run must keep working, so field names are part of the storage
// contract.

const (
	updateKindTransaction  = "transaction"
	updateKindReassignment = "reassignment"

	eventKindCreated   = "created"
	eventKindExercised = "exercised"
)

type eventEnvelope struct {
	Kind      string          `json:"kind"`
	Created   *CreatedEvent   `json:"created,omitempty"`
	Exercised *ExercisedEvent `json:"exercised,omitempty"`
}

type transactionEnvelope struct {
	UpdateID      string          `json:"update_id"`
	DomainID      DomainID        `json:"domain_id"`
	Migration     MigrationID     `json:"migration_id"`
	RecordTime    time.Time       `json:"record_time"`
	EffectiveTime time.Time       `json:"effective_time"`
	Offset        Offset          `json:"offset"`
	Seq           int64           `json:"seq"`
	Events        []eventEnvelope `json:"events"`
}

type updateEnvelope struct {
	Kind         string               `json:"kind"`
	Transaction  *transactionEnvelope `json:"transaction,omitempty"`
	Reassignment *Reassignment        `json:"reassignment,omitempty"`
}

// EncodeUpdate serializes an update for storage or replay.
func EncodeUpdate(u Update) ([]byte, error) {
	var env updateEnvelope
	switch v := u.(type) {
	case *TransactionTree:
		events := make([]eventEnvelope, 0, len(v.Events))
		for _, ev := range v.Events {
			switch e := ev.(type) {
			case CreatedEvent:
				events = append(events, eventEnvelope{Kind: eventKindCreated, Created: &e})
			case ExercisedEvent:
				events = append(events, eventEnvelope{Kind: eventKindExercised, Exercised: &e})
			default:
				return nil, fmt.Errorf("encode update: unknown event type %T", ev)
			}
		}
		env = updateEnvelope{Kind: updateKindTransaction, Transaction: &transactionEnvelope{
			UpdateID:      v.UpdateID,
			DomainID:      v.DomainID,
			Migration:     v.Migration,
			RecordTime:    v.RecordTime,
			EffectiveTime: v.EffectiveTime,
			Offset:        v.Offset,
			Seq:           v.Seq,
			Events:        events,
		}}
	case *Reassignment:
		env = updateEnvelope{Kind: updateKindReassignment, Reassignment: v}
	default:
		return nil, fmt.Errorf("encode update: unknown update type %T", u)
	}
	return json.Marshal(env)
}

// DecodeUpdate deserializes an update produced by EncodeUpdate.
func DecodeUpdate(data []byte) (Update, error) {
	var env updateEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode update: %w", err)
	}
	switch env.Kind {
	case updateKindTransaction:
		if env.Transaction == nil {
			return nil, fmt.Errorf("decode update: transaction envelope missing body")
		}
		t := &TransactionTree{
			UpdateID:      env.Transaction.UpdateID,
			DomainID:      env.Transaction.DomainID,
			Migration:     env.Transaction.Migration,
			RecordTime:    env.Transaction.RecordTime,
			EffectiveTime: env.Transaction.EffectiveTime,
			Offset:        env.Transaction.Offset,
			Seq:           env.Transaction.Seq,
		}
		for _, ev := range env.Transaction.Events {
			switch ev.Kind {
			case eventKindCreated:
				if ev.Created == nil {
					return nil, fmt.Errorf("decode update: created envelope missing body")
				}
				t.Events = append(t.Events, *ev.Created)
			case eventKindExercised:
				if ev.Exercised == nil {
					return nil, fmt.Errorf("decode update: exercised envelope missing body")
				}
				t.Events = append(t.Events, *ev.Exercised)
			default:
				return nil, fmt.Errorf("decode update: unknown event kind %q", ev.Kind)
			}
		}
		return t, nil
	case updateKindReassignment:
		if env.Reassignment == nil {
			return nil, fmt.Errorf("decode update: reassignment envelope missing body")
		}
		return env.Reassignment, nil
	default:
		return nil, fmt.Errorf("decode update: unknown update kind %q", env.Kind)
	}
}
