package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/anthropics/hillclimber-engine/internal/domain"
)

// taskFile is the on-disk shape of a task definition. Each task lives
// in its own directory: task.json, optional image.ini, and an optional
// workspace/ directory seeded into the run workspace.
type taskFile struct {
	ID            string `json:"id"`
	Description   string `json:"description"`
	Category      string `json:"category"`
	Difficulty    string `json:"difficulty"`
	VerifyCommand string `json:"verify_command"`
}

// LoadTask reads one task directory.
func LoadTask(dir string) (domain.TaskDefinition, error) {
	data, err := os.ReadFile(filepath.Join(dir, "task.json"))
	if err != nil {
		return domain.TaskDefinition{}, fmt.Errorf("read task: %w", err)
	}
	var tf taskFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return domain.TaskDefinition{}, fmt.Errorf("parse task %s: %w", dir, err)
	}
	if tf.ID == "" || tf.VerifyCommand == "" {
		return domain.TaskDefinition{}, domain.NewEngineError(
			domain.ErrConfigInvalid.Code,
			fmt.Sprintf("task %s needs id and verify_command", dir),
		)
	}

	task := domain.TaskDefinition{
		ID:            tf.ID,
		Description:   tf.Description,
		Category:      tf.Category,
		Difficulty:    tf.Difficulty,
		VerifyCommand: tf.VerifyCommand,
	}
	if p := filepath.Join(dir, "image.ini"); exists(p) {
		task.ImageSpecPath = p
	}
	if p := filepath.Join(dir, "workspace"); exists(p) {
		task.WorkspaceSeed = p
	}
	return task, nil
}

// LoadTasks reads every task directory under root, sorted by id.
func LoadTasks(root string) ([]domain.TaskDefinition, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read tasks dir: %w", err)
	}

	var tasks []domain.TaskDefinition
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(root, e.Name())
		if !exists(filepath.Join(dir, "task.json")) {
			continue
		}
		task, err := LoadTask(dir)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks, nil
}

// FindTask returns the task with the given id from root.
func FindTask(root, id string) (domain.TaskDefinition, error) {
	tasks, err := LoadTasks(root)
	if err != nil {
		return domain.TaskDefinition{}, err
	}
	for _, t := range tasks {
		if t.ID == id {
			return t, nil
		}
	}
	return domain.TaskDefinition{}, domain.NewEngineError(
		domain.ErrConfigInvalid.Code, "unknown task id: "+id)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
