// Package envelope implements the Data Envelope component: ordered
// named data slices flowing along DAG edges, with fork/merge/select
// operations grounded on original_source's MultiTaskData (ordered
// datasets plus an alias map) but re-expressed as plain Go value types.
package envelope

import (
	"encoding/json"
	"fmt"

	"github.com/lightflow/lightflow/internal/lferr"
	"github.com/lightflow/lightflow/internal/model"
)

// ParentEnvelope pairs a parent task name with the envelope it emitted,
// so Merge can disambiguate colliding slot names by parent prefix.
type ParentEnvelope struct {
	ParentName string
	Envelope   model.Envelope
}

// Fork returns a copy of e whose slice and history slices do not alias
// the original's backing arrays. Payloads are opaque JSON blobs and are
// treated as shared-immutable, matching spec.md §4.C's "payload may
// remain shared-immutable" allowance.
func Fork(e model.Envelope) model.Envelope {
	out := model.Envelope{
		Slices:  make([]model.Slice, len(e.Slices)),
		Aliases: make(map[string]string, len(e.Aliases)),
	}
	for i, s := range e.Slices {
		hist := make([]string, len(s.History))
		copy(hist, s.History)
		out.Slices[i] = model.Slice{Slot: s.Slot, Payload: s.Payload, History: hist}
	}
	for k, v := range e.Aliases {
		out.Aliases[k] = v
	}
	return out
}

// Merge concatenates the given parent envelopes' slices, preserving
// parent order as given. A slot name that appears in more than one
// parent envelope is disambiguated by prefixing it with the owning
// parent's name and a dot, e.g. "B.x" — the Open Question decision
// recorded in DESIGN.md.
func Merge(parents []ParentEnvelope) model.Envelope {
	counts := map[string]int{}
	for _, p := range parents {
		for _, s := range p.Envelope.Slices {
			counts[s.Slot]++
		}
	}

	out := model.Envelope{Aliases: map[string]string{}}
	for _, p := range parents {
		for _, s := range p.Envelope.Slices {
			slot := s.Slot
			if counts[slot] > 1 {
				slot = fmt.Sprintf("%s.%s", p.ParentName, s.Slot)
			}
			out.Slices = append(out.Slices, model.Slice{
				Slot:    slot,
				Payload: s.Payload,
				History: append([]string{}, s.History...),
			})
		}
		for alias, slot := range p.Envelope.Aliases {
			out.Aliases[alias] = slot
		}
	}
	return out
}

// SelectForTask applies a task's input alias map (alias name -> slot
// name) to produce the body-facing named view. If aliases is empty the
// task receives every slice keyed by its own slot name ("all", per
// spec.md §3's "defaults to all"). An alias whose slot is missing is
// always an error (UnknownAlias); strict controls whether an empty view
// is an error (EmptyInput).
func SelectForTask(e model.Envelope, aliases map[string]string, strict bool) (map[string]json.RawMessage, error) {
	bySlot := make(map[string]model.Slice, len(e.Slices))
	for _, s := range e.Slices {
		bySlot[s.Slot] = s
	}

	view := make(map[string]json.RawMessage)
	if len(aliases) == 0 {
		for _, s := range e.Slices {
			view[s.Slot] = s.Payload
		}
		if strict && len(view) == 0 {
			return nil, lferr.New(lferr.KindDataRoutingError, "EmptyInput: no slices delivered")
		}
		return view, nil
	}

	for alias, slot := range aliases {
		s, ok := bySlot[slot]
		if !ok {
			return nil, lferr.New(lferr.KindDataRoutingError, fmt.Sprintf("UnknownAlias: %s -> %s", alias, slot))
		}
		view[alias] = s.Payload
	}
	if strict && len(view) == 0 {
		return nil, lferr.New(lferr.KindDataRoutingError, "EmptyInput: no slices delivered")
	}
	return view, nil
}

// Shard splits e's named slot into one envelope per array element, for
// TaskNode.ForEachSlot fan-out (spec.md §9's chunking-task supplement).
// Every other slot is carried through into each shard unchanged. A nil,
// nil return means slot isn't present — the caller treats that as zero
// fan-out work rather than an error.
func Shard(e model.Envelope, slot string) ([]model.Envelope, error) {
	for _, s := range e.Slices {
		if s.Slot != slot {
			continue
		}
		var items []json.RawMessage
		if err := json.Unmarshal(s.Payload, &items); err != nil {
			return nil, lferr.New(lferr.KindDataRoutingError, fmt.Sprintf("for_each_slot %q is not a json array: %v", slot, err))
		}
		out := make([]model.Envelope, len(items))
		for i, item := range items {
			shard := Fork(e)
			for j := range shard.Slices {
				if shard.Slices[j].Slot == slot {
					shard.Slices[j].Payload = item
				}
			}
			out[i] = shard
		}
		return out, nil
	}
	return nil, nil
}

// MergeShards folds N fan-out results back into one envelope: each
// result slot's payloads are collected, in shard order, into a single
// JSON array slice of the same slot name.
func MergeShards(results []model.Envelope) model.Envelope {
	var order []string
	bySlot := map[string][]json.RawMessage{}
	for _, r := range results {
		for _, s := range r.Slices {
			if _, seen := bySlot[s.Slot]; !seen {
				order = append(order, s.Slot)
			}
			bySlot[s.Slot] = append(bySlot[s.Slot], s.Payload)
		}
	}
	out := model.Envelope{}
	for _, slot := range order {
		payload, _ := json.Marshal(bySlot[slot])
		out.Slices = append(out.Slices, model.Slice{Slot: slot, Payload: payload})
	}
	return out
}

// AppendHistory returns a copy of slice with taskName appended to its
// history. History is append-only per spec.md §3.
func AppendHistory(s model.Slice, taskName string) model.Slice {
	hist := make([]string, len(s.History), len(s.History)+1)
	copy(hist, s.History)
	hist = append(hist, taskName)
	return model.Slice{Slot: s.Slot, Payload: s.Payload, History: hist}
}

// Set returns a copy of e with slot set to payload, authored by
// taskName (appended to that slice's history). If the slot already
// exists it is replaced; slot names stay unique within an envelope
// per spec.md §3's invariant.
func Set(e model.Envelope, slot string, payload json.RawMessage, taskName string) model.Envelope {
	out := Fork(e)
	for i, s := range out.Slices {
		if s.Slot == slot {
			out.Slices[i] = AppendHistory(model.Slice{Slot: slot, Payload: payload, History: s.History}, taskName)
			return out
		}
	}
	out.Slices = append(out.Slices, AppendHistory(model.Slice{Slot: slot, Payload: payload}, taskName))
	return out
}
