package source

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mzli/pillarflow/pkg/models"
)

// TaskTemplate is one task entry in a pillar plan file.
type TaskTemplate struct {
	ID            string   `yaml:"id"`
	PillarID      string   `yaml:"pillar"`
	Title         string   `yaml:"title"`
	Description   string   `yaml:"description"`
	Priority      string   `yaml:"priority"`
	EstimatedTime int      `yaml:"estimated_time"`
	Dependencies  []string `yaml:"dependencies"`
	ActionType    string   `yaml:"action_type"`
	ActionTarget  string   `yaml:"action_target"`
}

// Plan is the top-level structure of a templates.yaml file.
type Plan struct {
	Tasks []TaskTemplate `yaml:"tasks"`
}

// TemplateProvider builds daily task sets from a YAML plan file. When Path
// is empty or the file is missing, the built-in default plan is used.
type TemplateProvider struct {
	Path string
}

// LoadPlan reads a plan from path. Returns nil plan and nil error if the
// file is missing.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse plan %s: %w", path, err)
	}
	return &p, nil
}

// Tasks returns the day's task descriptors. Ids from the plan are kept
// as-is so dependency edges inside the plan stay valid; defaults are filled
// for status-independent fields the plan omits.
func (p *TemplateProvider) Tasks(ctx context.Context, userID, date string, genCtx map[string]string) ([]models.Task, error) {
	plan, err := p.plan()
	if err != nil {
		return nil, err
	}

	focus := ""
	if genCtx != nil {
		focus = genCtx["pillar"]
	}

	var tasks []models.Task
	for _, tpl := range plan.Tasks {
		if focus != "" && tpl.PillarID != focus {
			continue
		}
		priority := tpl.Priority
		if priority == "" {
			priority = models.PriorityMedium
		}
		tasks = append(tasks, models.Task{
			ID:            tpl.ID,
			PillarID:      tpl.PillarID,
			Title:         tpl.Title,
			Description:   tpl.Description,
			Status:        models.TaskPending,
			Priority:      priority,
			EstimatedTime: tpl.EstimatedTime,
			Dependencies:  append([]string(nil), tpl.Dependencies...),
			ActionType:    tpl.ActionType,
			ActionTarget:  tpl.ActionTarget,
		})
	}
	return tasks, nil
}

func (p *TemplateProvider) plan() (*Plan, error) {
	if p.Path != "" {
		plan, err := LoadPlan(p.Path)
		if err != nil {
			return nil, err
		}
		if plan != nil {
			return plan, nil
		}
	}
	return defaultPlan(), nil
}

// defaultPlan is the built-in daily content plan: review strategy, generate
// drafts, then publish and measure.
func defaultPlan() *Plan {
	return &Plan{Tasks: []TaskTemplate{
		{
			ID: "plan-review", PillarID: "plan", Title: "Review today's content strategy",
			Description: "Check the calendar and pick the topics to work on.",
			Priority:    models.PriorityHigh, EstimatedTime: 10,
			ActionType: models.ActionNavigate, ActionTarget: "strategy",
		},
		{
			ID: "generate-draft", PillarID: "generate", Title: "Draft the day's main piece",
			Description: "Produce a first draft for the top calendar slot.",
			Priority:    models.PriorityHigh, EstimatedTime: 45,
			Dependencies: []string{"plan-review"},
			ActionType:   models.ActionNavigate, ActionTarget: "editor",
		},
		{
			ID: "generate-social", PillarID: "generate", Title: "Prepare social variants",
			Description: "Cut the draft into channel-sized posts.",
			Priority:    models.PriorityMedium, EstimatedTime: 20,
			Dependencies: []string{"generate-draft"},
			ActionType:   models.ActionNavigate, ActionTarget: "editor",
		},
		{
			ID: "publish-schedule", PillarID: "publish", Title: "Schedule publication",
			Description: "Queue the approved pieces on their channels.",
			Priority:    models.PriorityMedium, EstimatedTime: 15,
			Dependencies: []string{"generate-draft", "generate-social"},
			ActionType:   models.ActionNavigate, ActionTarget: "scheduler",
		},
		{
			ID: "publish-metrics", PillarID: "publish", Title: "Check yesterday's metrics",
			Description: "Review engagement on the previous day's posts.",
			Priority:    models.PriorityLow, EstimatedTime: 10,
			ActionType:  models.ActionNavigate, ActionTarget: "analytics",
		},
	}}
}
