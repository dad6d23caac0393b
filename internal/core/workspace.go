package core

import (
	"encoding/json"
	"fmt"
	"time"
)

type WizardStep string

const (
	StepDescribe  WizardStep = "describe"
	StepClarify   WizardStep = "clarify"
	StepUsage     WizardStep = "usage"
	StepCost      WizardStep = "cost"
	StepTerraform WizardStep = "terraform"
	StepConnect   WizardStep = "connect"
	StepProvision WizardStep = "provision"
	StepDeploy    WizardStep = "deploy"
	StepDone      WizardStep = "done"
)

// Steps is the wizard order.
var Steps = []WizardStep{
	StepDescribe, StepClarify, StepUsage, StepCost, StepTerraform,
	StepConnect, StepProvision, StepDeploy, StepDone,
}

// Next returns the step after s, or s itself on the last step.
func (s WizardStep) Next() WizardStep {
	for i, st := range Steps {
		if st == s && i+1 < len(Steps) {
			return Steps[i+1]
		}
	}
	return s
}

type Workspace struct {
	ID        string         `json:"id"`
	ProjectID string         `json:"project_id"`
	Name      string         `json:"name"`
	Step      WizardStep     `json:"step"`
	State     WorkspaceState `json:"state_json"`
	Revision  int64          `json:"revision"`
	UpdatedAt *time.Time     `json:"updated_at,omitempty"`
}

type ConnectionStatus string

const (
	Connected    ConnectionStatus = "connected"
	Disconnected ConnectionStatus = "disconnected"
)

type Connection struct {
	Provider       string           `json:"provider"`
	Status         ConnectionStatus `json:"status"`
	AccountID      string           `json:"account_id,omitempty"`
	SubscriptionID string           `json:"subscription_id,omitempty"`
	ProjectID      string           `json:"project_id,omitempty"`
	ExternalID     string           `json:"external_id,omitempty"`
}

func (c *Connection) IsConnected() bool {
	return c != nil && c.Status == Connected
}

// JobState is the persisted view of one job slot. Provisioning uses both
// the deploy and destroy halves; application deployment only the deploy half.
type JobState struct {
	DeployStatus  JobStatus  `json:"deployStatus,omitempty"`
	DestroyStatus JobStatus  `json:"destroyStatus,omitempty"`
	Logs          []LogEntry `json:"logs,omitempty"`
	DeployJobID   JobID      `json:"deployJobId,omitempty"`
	DestroyJobID  JobID      `json:"destroyJobId,omitempty"`
}

// WorkspaceState is the client view of state_json. Fields the client does
// not model are kept in extra and written back untouched.
type WorkspaceState struct {
	InfraSpec        json.RawMessage `json:"infraSpec,omitempty"`
	CostEstimation   json.RawMessage `json:"costEstimation,omitempty"`
	UsageProfile     json.RawMessage `json:"usageProfile,omitempty"`
	Connection       *Connection     `json:"connection,omitempty"`
	Provisioning     *JobState       `json:"provisioning,omitempty"`
	Deployment       *JobState       `json:"deployment,omitempty"`
	RemovedServices  []string        `json:"removedServices,omitempty"`
	SelectedProvider string          `json:"selectedProvider,omitempty"`
	IsDeployed       bool            `json:"is_deployed,omitempty"`
	IsLive           bool            `json:"is_live,omitempty"`

	extra map[string]json.RawMessage
}

type workspaceStateAlias WorkspaceState

var knownStateKeys = []string{
	"infraSpec", "costEstimation", "usageProfile", "connection", "provisioning",
	"deployment", "removedServices", "selectedProvider", "is_deployed", "is_live",
}

func (s *WorkspaceState) UnmarshalJSON(b []byte) error {
	var alias workspaceStateAlias
	if err := json.Unmarshal(b, &alias); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(b, &all); err != nil {
		return err
	}
	for _, k := range knownStateKeys {
		delete(all, k)
	}
	*s = WorkspaceState(alias)
	if len(all) > 0 {
		s.extra = all
	}
	return nil
}

func (s WorkspaceState) MarshalJSON() ([]byte, error) {
	b, err := json.Marshal(workspaceStateAlias(s))
	if err != nil {
		return nil, err
	}
	if len(s.extra) == 0 {
		return b, nil
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(b, &all); err != nil {
		return nil, err
	}
	for k, v := range s.extra {
		if _, ok := all[k]; !ok {
			all[k] = v
		}
	}
	return json.Marshal(all)
}

// Extra returns an unmodelled field.
func (s *WorkspaceState) Extra(key string) (json.RawMessage, bool) {
	v, ok := s.extra[key]
	return v, ok
}

// StatePatch is a partial state_json update. Top-level keys replace the
// stored value (shallow merge).
type StatePatch map[string]any

// Apply returns a copy of s with patch merged in at the top level.
func (s WorkspaceState) Apply(patch StatePatch) (WorkspaceState, error) {
	if len(patch) == 0 {
		return s, nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return s, err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(b, &all); err != nil {
		return s, err
	}
	for k, v := range patch {
		if v == nil {
			delete(all, k)
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return s, fmt.Errorf("patch field %s: %w", k, err)
		}
		all[k] = raw
	}
	merged, err := json.Marshal(all)
	if err != nil {
		return s, err
	}
	var out WorkspaceState
	if err := json.Unmarshal(merged, &out); err != nil {
		return s, err
	}
	return out, nil
}

// Job returns the persisted status and id of kind.
func (s *WorkspaceState) Job(kind JobKind) (JobStatus, JobID) {
	switch kind {
	case JobProvision:
		if s.Provisioning != nil {
			return s.Provisioning.DeployStatus, s.Provisioning.DeployJobID
		}
	case JobDestroy:
		if s.Provisioning != nil {
			return s.Provisioning.DestroyStatus, s.Provisioning.DestroyJobID
		}
	case JobAppDeploy:
		if s.Deployment != nil {
			return s.Deployment.DeployStatus, s.Deployment.DeployJobID
		}
	}
	return "", ""
}

// JobPatch builds the state patch recording a job of kind in slot, which is
// the current value of the job's state_json slot (may be nil).
func JobPatch(kind JobKind, slot *JobState, status JobStatus, id JobID, logs []LogEntry) StatePatch {
	var js JobState
	if slot != nil {
		js = *slot
	}
	switch kind {
	case JobDestroy:
		js.DestroyStatus = status
		js.DestroyJobID = id
	default:
		js.DeployStatus = status
		js.DeployJobID = id
	}
	js.Logs = logs
	return StatePatch{SlotKey(kind): js}
}

// SlotKey is the state_json key a job kind lives under.
func SlotKey(kind JobKind) string {
	if kind == JobAppDeploy {
		return "deployment"
	}
	return "provisioning"
}

// Slot returns the current state_json slot for kind.
func (s *WorkspaceState) Slot(kind JobKind) *JobState {
	if kind == JobAppDeploy {
		return s.Deployment
	}
	return s.Provisioning
}
