package coordinator

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"skylane/internal/deconflict"
	"skylane/internal/domain"
	"skylane/internal/dss"
	"skylane/internal/store"
	"skylane/internal/uss"
)

// ConflictError means a plain (non-tolerant) create found the airspace
// already claimed. The overlapping references identify what is in the way.
type ConflictError struct {
	Constraints        []domain.ConstraintReference
	OperationalIntents []domain.OperationalIntentReference
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("airspace conflict: %d constraint(s), %d operational intent(s) overlap the requested area",
		len(e.Constraints), len(e.OperationalIntents))
}

// PreconditionError means a mutating call was attempted on an entity that
// has no OVN from a prior registry write; the registry could only reject it.
type PreconditionError struct {
	Entity string
	ID     uuid.UUID
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s %s has no ovn from a previous registry write", e.Entity, e.ID)
}

// Coordinator drives the operational-intent and constraint lifecycles:
// registry write first, local persistence second, subscriber notification
// last. Notification is best-effort and never rolls back the first two.
type Coordinator struct {
	DSS      *dss.Client
	Store    store.Store
	Resolver *deconflict.Resolver
	PeerFor  func(baseURL string) (*uss.Client, error)

	// DefaultConstraintType tags constraints created by this node.
	DefaultConstraintType string
	Now                   func() time.Time
}

type CreateOptions struct {
	// TolerateConflicts resolves overlapping entities into conflict keys
	// instead of refusing the create.
	TolerateConflicts bool
	FlightType        domain.FlightType
	Priority          int
}

func (c *Coordinator) subscription() domain.SubscriptionTarget {
	return domain.SubscribeInline(domain.NewSubscription{
		USSBaseURL:           c.DSS.Domain,
		NotifyForConstraints: true,
	})
}

// CreateOperationalIntent claims the area with the registry and persists the
// resulting aggregate in state Accepted.
func (c *Coordinator) CreateOperationalIntent(ctx context.Context, area domain.AreaOfInterest, opts CreateOptions) (domain.OperationalIntent, error) {
	var keys []string
	if opts.TolerateConflicts {
		resolved, err := c.Resolver.ResolveKeys(ctx, []domain.AreaOfInterest{area})
		if err != nil {
			return domain.OperationalIntent{}, err
		}
		keys = resolved
	} else {
		crefs, orefs, err := c.Resolver.Overlaps(ctx, area)
		if err != nil {
			return domain.OperationalIntent{}, err
		}
		if len(crefs) > 0 || len(orefs) > 0 {
			return domain.OperationalIntent{}, &ConflictError{Constraints: crefs, OperationalIntents: orefs}
		}
	}

	flightType := opts.FlightType
	if flightType == "" {
		flightType = domain.FlightVLOS
	}
	id := uuid.New()
	change, err := c.DSS.CreateOperationalIntent(ctx, id, []domain.AreaOfInterest{area}, keys, flightType, c.subscription())
	if err != nil {
		return domain.OperationalIntent{}, err
	}
	intent := domain.OperationalIntent{
		Reference: change.OperationalIntentReference,
		Details: domain.OperationalIntentDetails{
			Volumes:           []domain.AreaOfInterest{area},
			OffNominalVolumes: []domain.AreaOfInterest{},
			Priority:          opts.Priority,
		},
	}
	if err := c.Store.SaveOperationalIntent(ctx, intent); err != nil {
		return domain.OperationalIntent{}, err
	}
	c.notifyOperationalIntent(ctx, change.Subscribers, intent.Reference.ID, &intent)
	return intent, nil
}

// ActivateOperationalIntent transitions Accepted → Activated.
func (c *Coordinator) ActivateOperationalIntent(ctx context.Context, id uuid.UUID) (domain.OperationalIntent, error) {
	return c.transitionOperationalIntent(ctx, id, domain.StateActivated)
}

// MarkNonconforming transitions the intent to Nonconforming. The registry
// call runs under the conformance-monitoring scope.
func (c *Coordinator) MarkNonconforming(ctx context.Context, id uuid.UUID) (domain.OperationalIntent, error) {
	return c.transitionOperationalIntent(ctx, id, domain.StateNonconforming)
}

func (c *Coordinator) transitionOperationalIntent(ctx context.Context, id uuid.UUID, state domain.OperationalIntentState) (domain.OperationalIntent, error) {
	intent, err := c.Store.GetOperationalIntent(ctx, id)
	if err != nil {
		return domain.OperationalIntent{}, err
	}
	if intent.Reference.OVN == "" {
		return domain.OperationalIntent{}, &PreconditionError{Entity: "operational intent", ID: id}
	}
	intent.Details.Volumes = normalizeVolumes(intent.Details.Volumes)
	return c.pushOperationalIntent(ctx, intent, state)
}

// UpdateOperationalIntent replaces the stored details and pushes the new
// extents to the registry under the current state.
func (c *Coordinator) UpdateOperationalIntent(ctx context.Context, id uuid.UUID, details domain.OperationalIntentDetails) (domain.OperationalIntent, error) {
	intent, err := c.Store.GetOperationalIntent(ctx, id)
	if err != nil {
		return domain.OperationalIntent{}, err
	}
	if intent.Reference.OVN == "" {
		return domain.OperationalIntent{}, &PreconditionError{Entity: "operational intent", ID: id}
	}
	details.Volumes = normalizeVolumes(details.Volumes)
	if details.OffNominalVolumes == nil {
		details.OffNominalVolumes = []domain.AreaOfInterest{}
	}
	intent.Details = details
	return c.pushOperationalIntent(ctx, intent, intent.Reference.State)
}

// pushOperationalIntent performs the registry update with freshly resolved
// keys, then persists and notifies. On a registry rejection (stale OVN
// included) the stored aggregate is left untouched.
func (c *Coordinator) pushOperationalIntent(ctx context.Context, intent domain.OperationalIntent, state domain.OperationalIntentState) (domain.OperationalIntent, error) {
	keys, err := c.Resolver.ResolveKeys(ctx, intent.Details.Volumes)
	if err != nil {
		return domain.OperationalIntent{}, err
	}
	change, err := c.DSS.UpdateOperationalIntent(ctx, intent.Reference.ID, intent.Reference.OVN,
		intent.Details.Volumes, keys, state, intent.Reference.FlightType, c.subscription())
	if err != nil {
		return domain.OperationalIntent{}, err
	}
	intent.Reference = change.OperationalIntentReference
	if err := c.Store.SaveOperationalIntent(ctx, intent); err != nil {
		return domain.OperationalIntent{}, err
	}
	c.notifyOperationalIntent(ctx, change.Subscribers, intent.Reference.ID, &intent)
	return intent, nil
}

// DeleteOperationalIntent removes the reference from the registry with the
// current OVN, drops the local record and notifies subscribers with a nil
// payload. A second delete reports store.ErrNotFound.
func (c *Coordinator) DeleteOperationalIntent(ctx context.Context, id uuid.UUID) error {
	intent, err := c.Store.GetOperationalIntent(ctx, id)
	if err != nil {
		return err
	}
	if intent.Reference.OVN == "" {
		return &PreconditionError{Entity: "operational intent", ID: id}
	}
	change, err := c.DSS.DeleteOperationalIntent(ctx, id, intent.Reference.OVN)
	if err != nil {
		return err
	}
	if err := c.Store.DeleteOperationalIntent(ctx, id); err != nil {
		return err
	}
	c.notifyOperationalIntent(ctx, change.Subscribers, id, nil)
	return nil
}

func (c *Coordinator) GetOperationalIntent(ctx context.Context, id uuid.UUID) (domain.OperationalIntent, error) {
	return c.Store.GetOperationalIntent(ctx, id)
}

func (c *Coordinator) ListOperationalIntents(ctx context.Context) ([]domain.OperationalIntent, error) {
	return c.Store.ListOperationalIntents(ctx)
}

// CreateConstraint registers a constraint over the areas and persists it
// with the configured type tag.
func (c *Coordinator) CreateConstraint(ctx context.Context, areas []domain.AreaOfInterest) (domain.Constraint, error) {
	id := uuid.New()
	areas = normalizeVolumes(areas)
	change, err := c.DSS.CreateConstraint(ctx, id, areas)
	if err != nil {
		return domain.Constraint{}, err
	}
	constraint := domain.Constraint{
		Reference: change.ConstraintReference,
		Details: domain.ConstraintDetails{
			Volumes: areas,
			Type:    c.DefaultConstraintType,
		},
	}
	if err := c.Store.SaveConstraint(ctx, constraint); err != nil {
		return domain.Constraint{}, err
	}
	c.notifyConstraint(ctx, change.Subscribers, constraint.Reference.ID, &constraint)
	return constraint, nil
}

// UpdateConstraint replaces the constraint's volumes.
func (c *Coordinator) UpdateConstraint(ctx context.Context, id uuid.UUID, volumes []domain.AreaOfInterest) (domain.Constraint, error) {
	constraint, err := c.Store.GetConstraint(ctx, id)
	if err != nil {
		return domain.Constraint{}, err
	}
	if constraint.Reference.OVN == "" {
		return domain.Constraint{}, &PreconditionError{Entity: "constraint", ID: id}
	}
	constraint.Details.Volumes = normalizeVolumes(volumes)
	change, err := c.DSS.UpdateConstraint(ctx, id, constraint.Reference.OVN, constraint.Details.Volumes)
	if err != nil {
		return domain.Constraint{}, err
	}
	constraint.Reference = change.ConstraintReference
	if err := c.Store.SaveConstraint(ctx, constraint); err != nil {
		return domain.Constraint{}, err
	}
	c.notifyConstraint(ctx, change.Subscribers, constraint.Reference.ID, &constraint)
	return constraint, nil
}

func (c *Coordinator) DeleteConstraint(ctx context.Context, id uuid.UUID) error {
	constraint, err := c.Store.GetConstraint(ctx, id)
	if err != nil {
		return err
	}
	if constraint.Reference.OVN == "" {
		return &PreconditionError{Entity: "constraint", ID: id}
	}
	change, err := c.DSS.DeleteConstraint(ctx, id, constraint.Reference.OVN)
	if err != nil {
		return err
	}
	if err := c.Store.DeleteConstraint(ctx, id); err != nil {
		return err
	}
	c.notifyConstraint(ctx, change.Subscribers, id, nil)
	return nil
}

func (c *Coordinator) GetConstraint(ctx context.Context, id uuid.UUID) (domain.Constraint, error) {
	return c.Store.GetConstraint(ctx, id)
}

func (c *Coordinator) ListConstraints(ctx context.Context) ([]domain.Constraint, error) {
	return c.Store.ListConstraints(ctx)
}

// ConflictPreview lists the volumes currently claimed over the area without
// writing anything.
func (c *Coordinator) ConflictPreview(ctx context.Context, area domain.AreaOfInterest) ([]domain.AreaOfInterest, error) {
	return c.Resolver.ConflictingVolumes(ctx, area)
}

func (c *Coordinator) CreateSubscription(ctx context.Context, area domain.AreaOfInterest) (domain.Subscription, error) {
	return c.DSS.CreateSubscription(ctx, uuid.New(), area)
}

func (c *Coordinator) GetSubscription(ctx context.Context, id uuid.UUID) (domain.Subscription, error) {
	return c.DSS.GetSubscription(ctx, id)
}

func (c *Coordinator) SetAvailability(ctx context.Context, availability domain.Availability) (dss.AvailabilityResponse, error) {
	current, err := c.DSS.GetAvailability(ctx)
	if err != nil {
		return dss.AvailabilityResponse{}, err
	}
	return c.DSS.SetAvailability(ctx, availability, current.Version)
}

func (c *Coordinator) SubmitReport(ctx context.Context, exchange domain.Exchange) (domain.Report, error) {
	return c.DSS.SubmitReport(ctx, exchange)
}

// notifyOperationalIntent fans the change out to every subscriber the
// registry named. Failures are logged and swallowed; the registry write and
// local persistence already committed.
func (c *Coordinator) notifyOperationalIntent(ctx context.Context, subscribers []domain.Subscriber, id uuid.UUID, intent *domain.OperationalIntent) {
	for _, sub := range subscribers {
		peer, err := c.PeerFor(sub.USSBaseURL)
		if err != nil {
			log.Printf("notify: peer %s: %v", sub.USSBaseURL, err)
			continue
		}
		if err := peer.NotifyOperationalIntent(ctx, sub.Subscriptions, id, intent); err != nil {
			log.Printf("notify: operational intent %s to %s: %v", id, sub.USSBaseURL, err)
		}
	}
}

func (c *Coordinator) notifyConstraint(ctx context.Context, subscribers []domain.Subscriber, id uuid.UUID, constraint *domain.Constraint) {
	for _, sub := range subscribers {
		peer, err := c.PeerFor(sub.USSBaseURL)
		if err != nil {
			log.Printf("notify: peer %s: %v", sub.USSBaseURL, err)
			continue
		}
		if err := peer.NotifyConstraint(ctx, sub.Subscriptions, id, constraint); err != nil {
			log.Printf("notify: constraint %s to %s: %v", id, sub.USSBaseURL, err)
		}
	}
}

func normalizeVolumes(volumes []domain.AreaOfInterest) []domain.AreaOfInterest {
	if volumes == nil {
		return []domain.AreaOfInterest{}
	}
	return volumes
}
