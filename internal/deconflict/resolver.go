package deconflict

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"skylane/internal/domain"
	"skylane/internal/dss"
	"skylane/internal/uss"
)

// Resolver turns areas of interest into the conflict keys the registry
// requires for a tolerant write: the current OVN of every entity overlapping
// the areas. Reference summaries from the registry may carry stale OVNs, so
// each entity is fetched from its owning peer to get the authoritative value.
type Resolver struct {
	DSS     *dss.Client
	PeerFor func(baseURL string) (*uss.Client, error)
}

// Overlaps lists the references overlapping one area, as the registry sees
// them. Used for the plain-create guard, which needs names, not keys.
func (r *Resolver) Overlaps(ctx context.Context, area domain.AreaOfInterest) ([]domain.ConstraintReference, []domain.OperationalIntentReference, error) {
	crefs, err := r.DSS.QueryConstraintReferences(ctx, area)
	if err != nil {
		return nil, nil, err
	}
	orefs, err := r.DSS.QueryOperationalIntentReferences(ctx, area)
	if err != nil {
		return nil, nil, err
	}
	return crefs, orefs, nil
}

// ResolveKeys gathers the current OVN of every constraint and operational
// intent overlapping any of the areas. Peer fetches run concurrently; a
// single unreachable owner fails the whole resolution, since a write with an
// incomplete key set would be rejected by the registry anyway.
func (r *Resolver) ResolveKeys(ctx context.Context, areas []domain.AreaOfInterest) ([]string, error) {
	crefs, orefs, err := r.collect(ctx, areas)
	if err != nil {
		return nil, err
	}

	var (
		mu   sync.Mutex
		keys = map[string]struct{}{}
	)
	add := func(ovn string) {
		if ovn == "" {
			return
		}
		mu.Lock()
		keys[ovn] = struct{}{}
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, ref := range crefs {
		ref := ref
		g.Go(func() error {
			peer, err := r.PeerFor(ref.USSBaseURL)
			if err != nil {
				return err
			}
			c, err := peer.GetConstraint(gctx, ref.ID)
			if err != nil {
				return err
			}
			add(c.Reference.OVN)
			return nil
		})
	}
	for _, ref := range orefs {
		ref := ref
		g.Go(func() error {
			peer, err := r.PeerFor(ref.USSBaseURL)
			if err != nil {
				return err
			}
			oi, err := peer.GetOperationalIntent(gctx, ref.ID)
			if err != nil {
				return err
			}
			add(oi.Reference.OVN)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := make([]string, 0, len(keys))
	for k := range keys {
		res = append(res, k)
	}
	sort.Strings(res)
	return res, nil
}

// ConflictingVolumes returns the volumes of every entity overlapping the
// area, fetched from their owners. Read-only; used for pre-flight display.
func (r *Resolver) ConflictingVolumes(ctx context.Context, area domain.AreaOfInterest) ([]domain.AreaOfInterest, error) {
	crefs, orefs, err := r.collect(ctx, []domain.AreaOfInterest{area})
	if err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		volumes []domain.AreaOfInterest
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, ref := range crefs {
		ref := ref
		g.Go(func() error {
			peer, err := r.PeerFor(ref.USSBaseURL)
			if err != nil {
				return err
			}
			c, err := peer.GetConstraint(gctx, ref.ID)
			if err != nil {
				return err
			}
			mu.Lock()
			volumes = append(volumes, c.Details.Volumes...)
			mu.Unlock()
			return nil
		})
	}
	for _, ref := range orefs {
		ref := ref
		g.Go(func() error {
			peer, err := r.PeerFor(ref.USSBaseURL)
			if err != nil {
				return err
			}
			oi, err := peer.GetOperationalIntent(gctx, ref.ID)
			if err != nil {
				return err
			}
			mu.Lock()
			volumes = append(volumes, oi.Details.Volumes...)
			volumes = append(volumes, oi.Details.OffNominalVolumes...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return volumes, nil
}

// collect queries the registry for every area and deduplicates references by
// entity id.
func (r *Resolver) collect(ctx context.Context, areas []domain.AreaOfInterest) ([]domain.ConstraintReference, []domain.OperationalIntentReference, error) {
	seenC := map[string]struct{}{}
	seenO := map[string]struct{}{}
	var crefs []domain.ConstraintReference
	var orefs []domain.OperationalIntentReference
	for _, area := range areas {
		cs, os, err := r.Overlaps(ctx, area)
		if err != nil {
			return nil, nil, err
		}
		for _, ref := range cs {
			if _, ok := seenC[ref.ID.String()]; ok {
				continue
			}
			seenC[ref.ID.String()] = struct{}{}
			crefs = append(crefs, ref)
		}
		for _, ref := range os {
			if _, ok := seenO[ref.ID.String()]; ok {
				continue
			}
			seenO[ref.ID.String()] = struct{}{}
			orefs = append(orefs, ref)
		}
	}
	return crefs, orefs, nil
}
