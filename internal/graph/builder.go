package graph

import (
	"fmt"
	"sort"
	"time"

	"scanlens/pkg/models"
)

const (
	relationReported  = "reported"
	relationAffects   = "affects"
	relationAgentStep = "agent_step"
	relationToolCall  = "tool_call"
)

type edgeKey struct {
	source   string
	target   string
	relation string
}

// Builder folds journal events, in append order, into a snapshot. Folding the
// same sequence always yields the same snapshot.
type Builder struct {
	runID string

	agents    map[string]*models.Agent
	assets    map[string]*models.Asset
	vulns     map[string]*models.Finding
	vulnOrder []string
	edges     map[edgeKey]struct{}
	edgeList  []models.Edge
	toolCalls []models.ToolCallEntry
	lastTS    *time.Time
}

// NewBuilder creates an empty builder for runID.
func NewBuilder(runID string) *Builder {
	return &Builder{
		runID:     runID,
		agents:    make(map[string]*models.Agent),
		assets:    make(map[string]*models.Asset),
		vulns:     make(map[string]*models.Finding),
		edges:     make(map[edgeKey]struct{}),
		edgeList:  make([]models.Edge, 0),
		toolCalls: make([]models.ToolCallEntry, 0),
	}
}

// Replay folds events into a fresh builder and returns the snapshot.
func Replay(runID string, events []models.Event) models.Snapshot {
	b := NewBuilder(runID)
	for i := range events {
		b.Apply(events[i])
	}
	return b.Build()
}

// Apply folds one event.
func (b *Builder) Apply(event models.Event) {
	ts := event.TS
	b.lastTS = &ts

	if event.Payload == nil {
		return
	}
	agentID, target := event.Payload.Subject()
	b.touchAgent(agentID, ts, event.Payload)
	b.touchAsset(target, ts)

	switch p := event.Payload.(type) {
	case *models.AgentStep:
		b.applyAgentStep(p)
	case *models.VulnFound:
		b.applyVulnFound(p, ts)
	case *models.ToolCall:
		b.applyToolCall(p, ts)
	case *models.ScanStart:
		if agentID != "" && target != "" {
			b.addEdge(agentID, target, event.Type, p.Action)
		}
	case *models.Generic:
		if agentID != "" && target != "" {
			b.addEdge(agentID, target, event.Type, p.Action)
		}
	}
}

// Build returns the snapshot of everything folded so far.
func (b *Builder) Build() models.Snapshot {
	snap := models.Snapshot{
		RunID:           b.runID,
		Agents:          make([]models.Agent, 0, len(b.agents)),
		Assets:          make([]models.Asset, 0, len(b.assets)),
		Vulnerabilities: make([]models.Finding, 0, len(b.vulnOrder)),
		Edges:           append(make([]models.Edge, 0, len(b.edgeList)), b.edgeList...),
		ToolCalls:       append(make([]models.ToolCallEntry, 0, len(b.toolCalls)), b.toolCalls...),
	}
	if b.lastTS != nil {
		ts := *b.lastTS
		snap.LastEventTS = &ts
	}

	for _, a := range b.agents {
		snap.Agents = append(snap.Agents, *a)
	}
	sort.Slice(snap.Agents, func(i, j int) bool { return snap.Agents[i].ID < snap.Agents[j].ID })

	for _, a := range b.assets {
		snap.Assets = append(snap.Assets, *a)
	}
	sort.Slice(snap.Assets, func(i, j int) bool { return snap.Assets[i].ID < snap.Assets[j].ID })

	for _, id := range b.vulnOrder {
		snap.Vulnerabilities = append(snap.Vulnerabilities, *b.vulns[id])
	}
	sort.SliceStable(snap.Vulnerabilities, func(i, j int) bool {
		return snap.Vulnerabilities[i].TS.Before(snap.Vulnerabilities[j].TS)
	})

	return snap
}

func (b *Builder) touchAgent(agentID string, ts time.Time, payload models.Payload) {
	if agentID == "" {
		return
	}
	if agent, ok := b.agents[agentID]; ok {
		widen(&agent.FirstSeen, &agent.LastSeen, ts)
		return
	}

	agent := &models.Agent{
		ID:        agentID,
		Label:     agentID,
		FirstSeen: ts,
		LastSeen:  ts,
		Meta:      map[string]interface{}{},
	}
	if step, ok := payload.(*models.AgentStep); ok {
		if name, ok := step.Meta["name"].(string); ok && name != "" {
			agent.Label = name
			for k, v := range step.Meta {
				agent.Meta[k] = v
			}
		}
	}
	b.agents[agentID] = agent
}

func (b *Builder) touchAsset(target string, ts time.Time) {
	if target == "" {
		return
	}
	if asset, ok := b.assets[target]; ok {
		widen(&asset.FirstSeen, &asset.LastSeen, ts)
		return
	}
	b.assets[target] = &models.Asset{
		ID:        target,
		Label:     target,
		URL:       target,
		FirstSeen: ts,
		LastSeen:  ts,
		Meta:      map[string]interface{}{},
	}
}

func widen(first, last *time.Time, ts time.Time) {
	if ts.Before(*first) {
		*first = ts
	}
	if ts.After(*last) {
		*last = ts
	}
}

func (b *Builder) applyAgentStep(p *models.AgentStep) {
	if p.AgentID == "" || p.Target == "" {
		return
	}
	relation := p.Action
	if relation == "" {
		relation = p.Tool
	}
	if relation == "" {
		relation = relationAgentStep
	}
	b.addEdge(p.AgentID, p.Target, relation, p.Status)
}

func (b *Builder) applyVulnFound(p *models.VulnFound, ts time.Time) {
	vulnID := p.VulnID
	if vulnID == "" {
		vulnID = fmt.Sprintf("vuln-%d", len(b.vulns)+1)
	}
	if _, exists := b.vulns[vulnID]; !exists {
		b.vulns[vulnID] = &models.Finding{
			ID:          vulnID,
			AgentID:     p.AgentID,
			AssetID:     p.Target,
			Severity:    p.Severity,
			Category:    p.Category,
			Description: p.Description,
			TS:          ts,
		}
		b.vulnOrder = append(b.vulnOrder, vulnID)
	}

	if p.AgentID != "" {
		b.addEdge(p.AgentID, vulnID, relationReported, p.Severity)
	}
	if p.Target != "" {
		b.touchAsset(p.Target, ts)
		b.addEdge(vulnID, p.Target, relationAffects, p.Category)
	}
}

func (b *Builder) applyToolCall(p *models.ToolCall, ts time.Time) {
	args := p.Args
	if args == nil {
		args = map[string]interface{}{}
	}

	target := p.Target
	if target == "" {
		target = ToolTarget(args)
	}
	if target != "" {
		b.touchAsset(target, ts)
		if p.AgentID != "" {
			relation := p.Tool
			if relation == "" {
				relation = relationToolCall
			}
			b.addEdge(p.AgentID, target, relation, p.Status)
		}
	}

	summary := p.ResultSummary
	if s, ok := p.Meta["summary"].(string); ok {
		summary = s
	}

	b.toolCalls = append(b.toolCalls, models.ToolCallEntry{
		ID:            fmt.Sprintf("tool-%d", len(b.toolCalls)+1),
		TS:            ts,
		AgentID:       p.AgentID,
		Tool:          p.Tool,
		Target:        target,
		Status:        p.Status,
		Summary:       summary,
		Args:          args,
		ResultSummary: p.ResultSummary,
	})
}

// ToolTarget infers a tool call's target from its args: a string "url",
// then a string "target". A string "url" wins even when empty.
func ToolTarget(args map[string]interface{}) string {
	if url, ok := args["url"].(string); ok {
		return url
	}
	if target, ok := args["target"].(string); ok {
		return target
	}
	return ""
}

// addEdge inserts an edge unless its (source, target, relation) already
// exists. The first label wins.
func (b *Builder) addEdge(source, target, relation, label string) {
	key := edgeKey{source: source, target: target, relation: relation}
	if _, ok := b.edges[key]; ok {
		return
	}
	b.edges[key] = struct{}{}
	b.edgeList = append(b.edgeList, models.Edge{
		ID:       fmt.Sprintf("edge-%d", len(b.edgeList)+1),
		Source:   source,
		Target:   target,
		Relation: relation,
		Label:    label,
	})
}
