package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"nse_trading_system/models"
)

// ErrUnknownTask is returned when a task name is not in the catalog.
var ErrUnknownTask = errors.New("unknown task")

// TaskDefinition describes one runnable task from the static catalog.
// Definitions are immutable after load; the command is an opaque executable
// line run by the task engine.
type TaskDefinition struct {
	Name        string           `json:"name"`
	Command     string           `json:"command"`
	Queue       models.QueueName `json:"queue"`
	Description string           `json:"description"`
}

// Catalog is the read-only task catalog loaded at startup.
type Catalog struct {
	defs   []TaskDefinition
	byName map[string]TaskDefinition
}

// New builds a catalog from the given definitions, validating names,
// commands and queue assignments.
func New(defs []TaskDefinition) (*Catalog, error) {
	c := &Catalog{
		defs:   make([]TaskDefinition, 0, len(defs)),
		byName: make(map[string]TaskDefinition, len(defs)),
	}

	for _, def := range defs {
		def.Name = strings.TrimSpace(def.Name)
		if def.Name == "" {
			return nil, fmt.Errorf("task definition with empty name")
		}
		if strings.TrimSpace(def.Command) == "" {
			return nil, fmt.Errorf("task %q has no command", def.Name)
		}
		if _, err := models.ParseQueueName(string(def.Queue)); err != nil {
			return nil, fmt.Errorf("task %q: %w", def.Name, err)
		}
		if _, exists := c.byName[def.Name]; exists {
			return nil, fmt.Errorf("duplicate task name %q", def.Name)
		}
		c.defs = append(c.defs, def)
		c.byName[def.Name] = def
	}

	return c, nil
}

// Load builds the catalog from a JSON file, or from the built-in defaults
// when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		log.Printf("Loaded built-in task catalog (%d tasks)", len(Defaults()))
		return New(Defaults())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task catalog %s: %w", path, err)
	}

	var defs []TaskDefinition
	if err := json.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("failed to parse task catalog %s: %w", path, err)
	}

	c, err := New(defs)
	if err != nil {
		return nil, err
	}

	log.Printf("Loaded task catalog from %s (%d tasks)", path, len(defs))
	return c, nil
}

// Lookup returns the definition for a task name. A miss is a client error,
// not a system fault.
func (c *Catalog) Lookup(name string) (TaskDefinition, error) {
	def, ok := c.byName[name]
	if !ok {
		return TaskDefinition{}, fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	return def, nil
}

// List returns the definitions in catalog order.
func (c *Catalog) List() []TaskDefinition {
	out := make([]TaskDefinition, len(c.defs))
	copy(out, c.defs)
	return out
}

// Defaults returns the built-in task catalog for the trading dashboard.
func Defaults() []TaskDefinition {
	return []TaskDefinition{
		{
			Name:        "scrape_companies",
			Command:     "python3 scripts/scrape_companies.py",
			Queue:       models.QueueDataCollection,
			Description: "Scrape company fundamental data from Screener.in",
		},
		{
			Name:        "collect_market_data",
			Command:     "python3 scripts/collect_market_data.py",
			Queue:       models.QueueDataCollection,
			Description: "Fetch latest market data from the Fyers API",
		},
		{
			Name:        "run_fundamental_analysis",
			Command:     "python3 scripts/run_fundamental_analysis.py",
			Queue:       models.QueueAnalysis,
			Description: "Execute fundamental analysis for all companies",
		},
		{
			Name:        "run_technical_analysis",
			Command:     "python3 scripts/run_technical_analysis.py",
			Queue:       models.QueueAnalysis,
			Description: "Calculate technical indicators for tracked symbols",
		},
		{
			Name:        "master_trading_orchestrator",
			Command:     "python3 scripts/run_trading_system.py",
			Queue:       models.QueueAnalysis,
			Description: "Full data, analysis and signal pipeline",
		},
		{
			Name:        "generate_trading_signals",
			Command:     "python3 scripts/generate_trading_signals.py",
			Queue:       models.QueueTrading,
			Description: "Generate trading signals based on latest analysis",
		},
		{
			Name:        "place_trade",
			Command:     "python3 scripts/place_trade.py",
			Queue:       models.QueueTrading,
			Description: "Execute pending high-confidence trading signals",
		},
		{
			Name:        "monitor_market_events",
			Command:     "python3 scripts/monitor_market_events.py",
			Queue:       models.QueueEvents,
			Description: "Monitor NSE events, announcements and order feeds",
		},
		{
			Name:        "cleanup_old_data",
			Command:     "python3 scripts/cleanup_old_data.py",
			Queue:       models.QueueDataCollection,
			Description: "Remove stale signals and expired cache entries",
		},
	}
}
