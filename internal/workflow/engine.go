package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/embermail/embermail/internal/domain"
	"github.com/embermail/embermail/internal/pkg/logger"
)

// Store persists workflow instances.
type Store interface {
	GetInstance(ctx context.Context, id uuid.UUID) (*domain.WorkflowInstance, error)
	// FindInstance returns ErrNotFound when no instance exists for the pair.
	FindInstance(ctx context.Context, flowID string, subscriberID uuid.UUID) (*domain.WorkflowInstance, error)
	CreateInstance(ctx context.Context, inst *domain.WorkflowInstance) error
	UpdateInstance(ctx context.Context, inst *domain.WorkflowInstance) error
	// ListWaiting returns incomplete instances currently parked on a wait.
	ListWaiting(ctx context.Context, limit int) ([]domain.WorkflowInstance, error)
}

// EventChecker answers existence queries over the engagement event stream.
type EventChecker interface {
	HasEvent(ctx context.Context, subscriberID, campaignID uuid.UUID, typ domain.EventType) (bool, error)
}

// Sender delivers one rendered template to one subscriber. Implemented by
// the dispatch engine.
type Sender interface {
	SendSingle(ctx context.Context, campaignID, templateID, subscriberID uuid.UUID) (*domain.SendResult, error)
}

// Engine advances workflow instances through their flow graphs.
type Engine struct {
	store  Store
	events EventChecker
	sender Sender
	log    *logger.Logger

	mu   sync.RWMutex
	defs map[string]*Definition

	now func() time.Time
}

// NewEngine wires the workflow engine. Definitions are registered separately.
func NewEngine(store Store, events EventChecker, sender Sender) *Engine {
	return &Engine{
		store:  store,
		events: events,
		sender: sender,
		log:    logger.Component("workflow"),
		defs:   make(map[string]*Definition),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Register validates and registers a flow definition.
func (e *Engine) Register(def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.defs[def.ID] = def
	e.mu.Unlock()
	return nil
}

func (e *Engine) definition(flowID string) (*Definition, error) {
	e.mu.RLock()
	def, ok := e.defs[flowID]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("flow %q: %w", flowID, ErrNotFound)
	}
	return def, nil
}

// StartFlow creates an instance at the flow's start node and runs it until
// it parks on a wait or completes. A subscriber already enrolled in the flow
// keeps their existing instance; no duplicate is created.
func (e *Engine) StartFlow(ctx context.Context, flowID string, subscriberID uuid.UUID) (*domain.WorkflowInstance, error) {
	def, err := e.definition(flowID)
	if err != nil {
		return nil, err
	}

	if existing, err := e.store.FindInstance(ctx, flowID, subscriberID); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("check enrollment: %w", err)
	}

	now := e.now()
	inst := &domain.WorkflowInstance{
		ID:           uuid.New(),
		FlowID:       flowID,
		SubscriberID: subscriberID,
		CurrentNode:  def.StartNode,
		StartedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.store.CreateInstance(ctx, inst); err != nil {
		return nil, fmt.Errorf("create instance: %w", err)
	}
	e.log.Info("flow started", "flow_id", flowID, "subscriber_id", subscriberID, "instance_id", inst.ID)

	if err := e.advance(ctx, inst, def); err != nil {
		return inst, err
	}
	return inst, nil
}

// Advance runs an instance until it parks on an unsatisfied wait or
// completes.
func (e *Engine) Advance(ctx context.Context, inst *domain.WorkflowInstance) error {
	if inst.Completed() {
		return ErrCompleted
	}
	def, err := e.definition(inst.FlowID)
	if err != nil {
		return err
	}
	return e.advance(ctx, inst, def)
}

func (e *Engine) advance(ctx context.Context, inst *domain.WorkflowInstance, def *Definition) error {
	// every cycle must pass through a wait, which parks, so one call can
	// visit each node at most once; more hops means a corrupt graph
	maxHops := len(def.Nodes) + 1
	for hops := 0; !inst.Completed(); hops++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if hops >= maxHops {
			return fmt.Errorf("flow %s instance %s: exceeded %d hops at node %q without parking",
				inst.FlowID, inst.ID, maxHops, inst.CurrentNode)
		}
		node, ok := def.Nodes[inst.CurrentNode]
		if !ok {
			return fmt.Errorf("flow %s instance %s: node %q: %w", inst.FlowID, inst.ID, inst.CurrentNode, ErrNotFound)
		}

		// an unsatisfied wait parks the instance until the next tick
		if node.Type == NodeWait && inst.State.Wait != nil {
			ok, err := e.waitSatisfied(ctx, inst)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			inst.State.Wait = nil
			e.moveTo(inst, node.Next)
			if err := e.persist(ctx, inst); err != nil {
				return err
			}
			continue
		}

		if err := e.ExecuteNode(ctx, inst, node); err != nil {
			return err
		}
		if node.Type == NodeWait {
			return nil
		}
	}
	return nil
}

// ExecuteNode runs a single node, appends it to the visited trail, and
// persists the instance. Callers normally go through Advance; this is the
// per-step unit.
func (e *Engine) ExecuteNode(ctx context.Context, inst *domain.WorkflowInstance, node Node) error {
	now := e.now()
	inst.State.Visited = append(inst.State.Visited, domain.VisitedNode{
		NodeID:    inst.CurrentNode,
		NodeType:  string(node.Type),
		VisitedAt: now,
	})

	switch node.Type {
	case NodeSend:
		if err := e.executeSend(ctx, inst, node, now); err != nil {
			return err
		}
		e.moveTo(inst, node.Next)

	case NodeWait:
		wait := &domain.WaitState{Event: node.Wait.Event}
		if node.Wait.Duration > 0 {
			until := now.Add(node.Wait.Duration)
			wait.Until = &until
		}
		inst.State.Wait = wait

	case NodeCondition:
		result, err := e.evaluate(ctx, inst, node)
		if err != nil {
			return err
		}
		inst.State.LastCondition = &domain.ConditionRecord{
			Predicate:   node.Predicate,
			CampaignID:  node.CampaignID,
			Result:      result,
			EvaluatedAt: now,
		}
		if result {
			e.moveTo(inst, node.TrueNode)
		} else {
			e.moveTo(inst, node.FalseNode)
		}

	default:
		return fmt.Errorf("flow %s node %q: unknown type %q", inst.FlowID, inst.CurrentNode, node.Type)
	}

	return e.persist(ctx, inst)
}

func (e *Engine) executeSend(ctx context.Context, inst *domain.WorkflowInstance, node Node, now time.Time) error {
	result, err := e.sender.SendSingle(ctx, node.CampaignID, node.TemplateID, inst.SubscriberID)
	if err != nil {
		return fmt.Errorf("flow %s send node %q: %w", inst.FlowID, inst.CurrentNode, err)
	}

	record := &domain.SendRecord{TemplateID: node.TemplateID, SentAt: now}
	if result.Success {
		record.Status = "sent"
		record.ProviderMessageID = result.MessageID
	} else {
		// a failed or skipped send does not stall the journey
		record.Status = "failed"
		if result.Error != nil {
			record.Error = result.Error.Error()
		}
		e.log.Warn("workflow send failed",
			"flow_id", inst.FlowID, "instance_id", inst.ID, "node", inst.CurrentNode, "error", record.Error)
	}
	inst.State.LastSend = record
	return nil
}

func (e *Engine) evaluate(ctx context.Context, inst *domain.WorkflowInstance, node Node) (bool, error) {
	var typ domain.EventType
	switch node.Predicate {
	case PredicateOpened:
		typ = domain.EventOpen
	case PredicateClicked:
		typ = domain.EventClick
	default:
		return false, fmt.Errorf("flow %s node %q: unknown predicate %q", inst.FlowID, inst.CurrentNode, node.Predicate)
	}
	return e.events.HasEvent(ctx, inst.SubscriberID, node.CampaignID, typ)
}

func (e *Engine) waitSatisfied(ctx context.Context, inst *domain.WorkflowInstance) (bool, error) {
	wait := inst.State.Wait
	if wait.Event != nil {
		found, err := e.events.HasEvent(ctx, inst.SubscriberID, wait.Event.CampaignID, wait.Event.Type)
		if err != nil {
			return false, fmt.Errorf("check awaited event: %w", err)
		}
		if found {
			return true, nil
		}
	}
	if wait.Until != nil && !e.now().Before(*wait.Until) {
		return true, nil
	}
	return false, nil
}

// moveTo advances the cursor, completing the instance on an empty successor.
func (e *Engine) moveTo(inst *domain.WorkflowInstance, next string) {
	if next == "" {
		now := e.now()
		inst.CompletedAt = &now
		e.log.Info("flow completed",
			"flow_id", inst.FlowID, "instance_id", inst.ID, "nodes_visited", len(inst.State.Visited))
		return
	}
	inst.CurrentNode = next
}

func (e *Engine) persist(ctx context.Context, inst *domain.WorkflowInstance) error {
	inst.UpdatedAt = e.now()
	if err := e.store.UpdateInstance(ctx, inst); err != nil {
		return fmt.Errorf("persist instance %s: %w", inst.ID, err)
	}
	return nil
}

// Tick advances every parked instance whose wait has expired or whose
// awaited event arrived. Per-instance failures are logged and skipped.
func (e *Engine) Tick(ctx context.Context) (int, error) {
	insts, err := e.store.ListWaiting(ctx, 500)
	if err != nil {
		return 0, fmt.Errorf("list waiting instances: %w", err)
	}

	advanced := 0
	for i := range insts {
		if ctx.Err() != nil {
			return advanced, ctx.Err()
		}
		inst := &insts[i]
		before := inst.CurrentNode
		if err := e.Advance(ctx, inst); err != nil {
			e.log.Error("tick advance failed", "instance_id", inst.ID, "error", err)
			continue
		}
		if inst.Completed() || inst.CurrentNode != before || inst.State.Wait == nil {
			advanced++
		}
	}
	return advanced, nil
}
