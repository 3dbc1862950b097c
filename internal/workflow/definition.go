package workflow

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/embermail/embermail/internal/domain"
)

// NodeType enumerates the supported node kinds.
type NodeType string

const (
	NodeSend      NodeType = "send"
	NodeWait      NodeType = "wait"
	NodeCondition NodeType = "condition"
)

// Condition predicates. Both are existence checks over the event stream
// scoped to the node's campaign.
const (
	PredicateOpened  = "opened"
	PredicateClicked = "clicked"
)

// WaitSpec configures a wait node. Duration waits set Duration; event waits
// set Event. When both are set the duration acts as a cap: the flow proceeds
// at the deadline even if the event never arrives.
type WaitSpec struct {
	Duration time.Duration          `json:"duration,omitempty"`
	Event    *domain.EventPredicate `json:"event,omitempty"`
}

// Node is one step in a flow graph. Fields are used per type: send nodes use
// TemplateID, CampaignID, and Next; wait nodes use Wait and Next; condition
// nodes use Predicate, CampaignID, TrueNode, and FalseNode. An empty
// successor terminates the flow.
type Node struct {
	Type       NodeType  `json:"type"`
	TemplateID uuid.UUID `json:"template_id,omitempty"`
	CampaignID uuid.UUID `json:"campaign_id,omitempty"`
	Next       string    `json:"next,omitempty"`
	Wait       *WaitSpec `json:"wait,omitempty"`
	Predicate  string    `json:"predicate,omitempty"`
	TrueNode   string    `json:"true_node,omitempty"`
	FalseNode  string    `json:"false_node,omitempty"`
}

// Definition is a complete flow graph keyed by node ID.
type Definition struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	StartNode string          `json:"start_node"`
	Nodes     map[string]Node `json:"nodes"`
}

// Validate checks the graph for structural problems before registration.
func (d *Definition) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("%w: empty flow id", ErrInvalidDefinition)
	}
	if _, ok := d.Nodes[d.StartNode]; !ok {
		return fmt.Errorf("%w: flow %s start node %q not in graph", ErrInvalidDefinition, d.ID, d.StartNode)
	}
	for id, node := range d.Nodes {
		if err := d.validateNode(id, node); err != nil {
			return err
		}
	}
	return d.checkCycles()
}

// checkCycles rejects cycles that contain no wait node. A wait node parks
// the instance at least once per pass, so cycles through one are bounded by
// the tick cadence; a wait-free cycle would spin inside a single advance.
func (d *Definition) checkCycles() error {
	const (
		white = iota
		gray
		black
	)
	state := make(map[string]int, len(d.Nodes))

	var visit func(id string) error
	visit = func(id string) error {
		state[id] = gray
		node := d.Nodes[id]
		if node.Type != NodeWait {
			for _, next := range []string{node.Next, node.TrueNode, node.FalseNode} {
				if next == "" {
					continue
				}
				switch state[next] {
				case gray:
					return fmt.Errorf("%w: flow %s has a cycle without a wait node through %q", ErrInvalidDefinition, d.ID, next)
				case white:
					if err := visit(next); err != nil {
						return err
					}
				}
			}
		}
		state[id] = black
		return nil
	}

	for id := range d.Nodes {
		if state[id] == white {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Definition) validateNode(id string, node Node) error {
	ref := func(target string) error {
		if target == "" {
			return nil
		}
		if _, ok := d.Nodes[target]; !ok {
			return fmt.Errorf("%w: flow %s node %q references unknown node %q", ErrInvalidDefinition, d.ID, id, target)
		}
		return nil
	}

	switch node.Type {
	case NodeSend:
		if node.TemplateID == uuid.Nil {
			return fmt.Errorf("%w: flow %s send node %q has no template", ErrInvalidDefinition, d.ID, id)
		}
		return ref(node.Next)
	case NodeWait:
		if node.Wait == nil || (node.Wait.Duration <= 0 && node.Wait.Event == nil) {
			return fmt.Errorf("%w: flow %s wait node %q has neither duration nor event", ErrInvalidDefinition, d.ID, id)
		}
		return ref(node.Next)
	case NodeCondition:
		if node.Predicate != PredicateOpened && node.Predicate != PredicateClicked {
			return fmt.Errorf("%w: flow %s condition node %q has unknown predicate %q", ErrInvalidDefinition, d.ID, id, node.Predicate)
		}
		if err := ref(node.TrueNode); err != nil {
			return err
		}
		return ref(node.FalseNode)
	default:
		return fmt.Errorf("%w: flow %s node %q has unknown type %q", ErrInvalidDefinition, d.ID, id, node.Type)
	}
}
