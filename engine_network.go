package goMFA

import (
	"context"
	"errors"
	"strings"

	"github.com/MrEthical07/goMFA/internal/netrange"
	"github.com/MrEthical07/goMFA/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const reasonNetworkDisabled = "network restrictions disabled"

// CheckOrigin evaluates origin against the enabled ranges.
//
// Blacklists are evaluated first and any match denies. If at least one
// whitelist exists the origin must match one of them; with no whitelist
// there is no allow-list restriction. Every check is audited with its
// reason. A denial is a decision, not an error: the returned error is only
// set for malformed input or storage faults.
func (e *Engine) CheckOrigin(ctx context.Context, userID, origin string) (*OriginDecision, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	decision, err := e.checkOrigin(ctx, origin)
	if err != nil {
		e.metricInc(MetricOriginDenied)
		e.emitAudit(ctx, auditEventOriginDenied, FactorNetwork, false, userID, err, func() map[string]string {
			return map[string]string{"origin": origin}
		})
		return nil, err
	}

	event := auditEventOriginAllowed
	var auditErr error
	if decision.Allowed {
		e.metricInc(MetricOriginAllowed)
	} else {
		e.metricInc(MetricOriginDenied)
		event = auditEventOriginDenied
		auditErr = ErrOriginDenied
	}
	e.emitAudit(ctx, event, FactorNetwork, decision.Allowed, userID, auditErr, func() map[string]string {
		detail := map[string]string{"origin": origin, "reason": decision.Reason}
		if decision.RangeID != "" {
			detail["range_id"] = decision.RangeID
		}
		return detail
	})
	return decision, nil
}

func (e *Engine) checkOrigin(ctx context.Context, origin string) (*OriginDecision, error) {
	if !e.config.Network.Enabled {
		return &OriginDecision{Allowed: true, Reason: reasonNetworkDisabled}, nil
	}
	addr, err := netrange.ParseAddr(strings.TrimSpace(origin))
	if err != nil {
		return nil, invalid("origin", err.Error())
	}

	ranges, err := e.store.ListNetworkRanges(ctx, true)
	if err != nil {
		return nil, e.storageFault("list_ranges", err)
	}

	type parsed struct {
		rec NetworkRange
		r   netrange.Range
	}
	var blacklist, whitelist []parsed
	for _, rec := range ranges {
		r, err := netrange.Parse(rec.CIDR)
		if err != nil {
			e.logger.Warn("skipping invalid stored range", zap.String("range_id", rec.ID), zap.String("cidr", rec.CIDR))
			continue
		}
		switch rec.Kind {
		case store.RangeBlacklist:
			blacklist = append(blacklist, parsed{rec, r})
		case store.RangeWhitelist:
			whitelist = append(whitelist, parsed{rec, r})
		}
	}

	for _, p := range blacklist {
		if p.r.Contains(addr) {
			return &OriginDecision{Reason: "origin matches blacklist range " + p.r.String(), RangeID: p.rec.ID}, nil
		}
	}
	if len(whitelist) == 0 {
		return &OriginDecision{Allowed: true, Reason: "no whitelist restriction"}, nil
	}
	for _, p := range whitelist {
		if p.r.Contains(addr) {
			return &OriginDecision{Allowed: true, Reason: "origin matches whitelist range " + p.r.String(), RangeID: p.rec.ID}, nil
		}
	}
	return &OriginDecision{Reason: "origin not in any whitelist range"}, nil
}

// AddRange validates cidr and stores it enabled. A bare address becomes a
// host range (/32 or /128); the stored CIDR is the canonical masked form.
func (e *Engine) AddRange(ctx context.Context, cidr string, kind RangeKind, description string) (*NetworkRange, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	rec, err := e.addRange(ctx, cidr, kind, description)
	if err != nil {
		e.emitAudit(ctx, auditEventRangeChangeFailed, FactorNetwork, false, "", err, func() map[string]string {
			return map[string]string{"cidr": cidr, "kind": string(kind)}
		})
		return nil, err
	}

	e.emitAudit(ctx, auditEventRangeAdded, FactorNetwork, true, "", nil, func() map[string]string {
		return map[string]string{"range_id": rec.ID, "cidr": rec.CIDR, "kind": string(rec.Kind)}
	})
	return rec, nil
}

func (e *Engine) addRange(ctx context.Context, cidr string, kind RangeKind, description string) (*NetworkRange, error) {
	if kind != store.RangeWhitelist && kind != store.RangeBlacklist {
		return nil, invalid("kind", "must be whitelist or blacklist")
	}
	r, err := netrange.Parse(strings.TrimSpace(cidr))
	if err != nil {
		return nil, invalid("cidr", err.Error())
	}

	rec := &NetworkRange{
		ID:          uuid.NewString(),
		CIDR:        r.String(),
		Kind:        kind,
		Description: strings.TrimSpace(description),
		Enabled:     true,
		CreatedAt:   e.now(),
	}
	if err := e.store.InsertNetworkRange(ctx, rec); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrConflict
		}
		return nil, e.storageFault("range_insert", err)
	}
	return rec, nil
}

// RemoveRange deletes a range by ID.
func (e *Engine) RemoveRange(ctx context.Context, id string) error {
	if err := e.ready(); err != nil {
		return err
	}

	deleted, err := e.store.DeleteNetworkRange(ctx, id)
	if err != nil {
		err = e.storageFault("range_delete", err)
	} else if !deleted {
		err = ErrNotFound
	}
	if err != nil {
		e.emitAudit(ctx, auditEventRangeChangeFailed, FactorNetwork, false, "", err, func() map[string]string {
			return map[string]string{"range_id": id}
		})
		return err
	}

	e.emitAudit(ctx, auditEventRangeRemoved, FactorNetwork, true, "", nil, func() map[string]string {
		return map[string]string{"range_id": id}
	})
	return nil
}

// SetRangeEnabled switches a range on or off.
func (e *Engine) SetRangeEnabled(ctx context.Context, id string, enabled bool) error {
	if err := e.ready(); err != nil {
		return err
	}

	updated, err := e.store.SetNetworkRangeEnabled(ctx, id, enabled)
	if err != nil {
		err = e.storageFault("range_toggle", err)
	} else if !updated {
		err = ErrNotFound
	}
	e.auditToggle(ctx, id, enabled, err)
	return err
}

// ToggleRange flips a range's enabled flag and returns the new value.
func (e *Engine) ToggleRange(ctx context.Context, id string) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}

	var enabled bool
	err := e.store.InTx(ctx, func(tx store.Tx) error {
		rec, err := tx.GetNetworkRange(ctx, id)
		if err != nil {
			return err
		}
		enabled = !rec.Enabled
		_, err = tx.SetNetworkRangeEnabled(ctx, id, enabled)
		return err
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		err = ErrNotFound
	case err != nil:
		err = e.storageFault("range_toggle", err)
	}
	e.auditToggle(ctx, id, enabled, err)
	if err != nil {
		return false, err
	}
	return enabled, nil
}

func (e *Engine) auditToggle(ctx context.Context, id string, enabled bool, err error) {
	if err != nil {
		e.emitAudit(ctx, auditEventRangeChangeFailed, FactorNetwork, false, "", err, func() map[string]string {
			return map[string]string{"range_id": id}
		})
		return
	}
	e.emitAudit(ctx, auditEventRangeToggled, FactorNetwork, true, "", nil, func() map[string]string {
		if enabled {
			return map[string]string{"range_id": id, "enabled": "true"}
		}
		return map[string]string{"range_id": id, "enabled": "false"}
	})
}

// ListRanges returns every range, enabled or not.
func (e *Engine) ListRanges(ctx context.Context) ([]NetworkRange, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	ranges, err := e.store.ListNetworkRanges(ctx, false)
	if err != nil {
		return nil, e.storageFault("list_ranges", err)
	}
	return ranges, nil
}
