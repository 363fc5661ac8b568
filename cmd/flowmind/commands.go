package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/flowmind/flowmind/internal/db"
	"github.com/flowmind/flowmind/internal/search"
	"github.com/flowmind/flowmind/internal/task"
	"github.com/flowmind/flowmind/pkg/types"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize a FlowMind workspace in the current directory",
		Long: `Initialize a FlowMind workspace in the current directory.

Creates a .flowmind directory with a SQLite database for tasks,
dependencies and the AI interaction log.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := os.Getwd()
			if err != nil {
				return err
			}

			dataDir := filepath.Join(dir, ".flowmind")
			if _, err := os.Stat(dataDir); err == nil {
				return fmt.Errorf("already initialized in %s", dataDir)
			}

			if err := os.MkdirAll(dataDir, 0755); err != nil {
				return fmt.Errorf("creating .flowmind directory: %w", err)
			}

			store, err := db.Open(filepath.Join(dataDir, "flowmind.db"))
			if err != nil {
				return fmt.Errorf("creating database: %w", err)
			}
			defer store.Close()

			if err := store.InitSchema(); err != nil {
				return fmt.Errorf("initializing schema: %w", err)
			}

			// Sets up the FTS index and its triggers up front so tasks
			// are searchable from the first insert
			if _, err := search.NewSearcher(store.DB, nil); err != nil {
				return fmt.Errorf("initializing search index: %w", err)
			}

			fmt.Printf("🧠 Initialized FlowMind in %s\n", dataDir)
			fmt.Println("\nNext steps:")
			fmt.Println("  flowmind add \"Write quarterly report\" --due 2025-07-01 --priority high")
			fmt.Println("  flowmind nl \"remind me to call the dentist tomorrow morning\"")
			fmt.Println("  flowmind list")
			fmt.Println("\nAI features need GROK_API_KEY or OPENAI_API_KEY set.")
			return nil
		},
	}
}

func addCmd() *cobra.Command {
	var (
		desc     string
		priority string
		due      string
		start    string
		duration int
		tags     []string
		category string
		project  string
		parentID int64
	)

	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Add a new task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.Close()

			in := task.CreateInput{
				UserID:   userID,
				Title:    args[0],
				Priority: types.TaskPriority(priority),
			}
			if desc != "" {
				in.Description = &desc
			}
			if due != "" {
				t, err := parseCLIDate(due)
				if err != nil {
					return fmt.Errorf("parsing --due: %w", err)
				}
				in.DueDate = &t
			}
			if start != "" {
				t, err := parseCLIDate(start)
				if err != nil {
					return fmt.Errorf("parsing --start: %w", err)
				}
				in.StartDate = &t
			}
			if duration > 0 {
				in.EstimatedDuration = &duration
			}
			if len(tags) > 0 {
				in.Tags = tags
			}
			if category != "" {
				in.Category = &category
			}
			if project != "" {
				in.Project = &project
			}
			if parentID > 0 {
				in.ParentTaskID = &parentID
			}

			created, err := a.service.Create(cmd.Context(), in)
			if err != nil {
				return err
			}

			fmt.Printf("✅ Created task %d: %s [%s]\n", created.ID, created.Title, created.Priority)
			if created.AIPriorityScore != nil {
				fmt.Printf("   priority score %d, complexity %d\n",
					*created.AIPriorityScore, deref(created.AIComplexityScore))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&desc, "description", "d", "", "Task description")
	cmd.Flags().StringVarP(&priority, "priority", "p", "", "Priority (low, medium, high, urgent)")
	cmd.Flags().StringVar(&due, "due", "", "Due date (2006-01-02 or RFC3339)")
	cmd.Flags().StringVar(&start, "start", "", "Start date (2006-01-02 or RFC3339)")
	cmd.Flags().IntVar(&duration, "duration", 0, "Estimated duration in minutes")
	cmd.Flags().StringSliceVarP(&tags, "tags", "t", nil, "Tags (comma separated)")
	cmd.Flags().StringVar(&category, "category", "", "Category")
	cmd.Flags().StringVar(&project, "project", "", "Project")
	cmd.Flags().Int64Var(&parentID, "parent", 0, "Parent task ID (creates a subtask)")
	return cmd
}

func nlCmd() *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "nl <text>",
		Short: "Create a task from natural language",
		Long: `Create a task from a natural language description.

The AI extracts title, priority, due date, duration and tags. Without
AI credentials the raw text becomes the task title with medium priority.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.Close()

			input := strings.Join(args, " ")
			created, result, err := a.service.CreateFromNaturalLanguage(cmd.Context(), userID, input, sessionID)
			if err != nil {
				return err
			}

			fmt.Printf("✅ Created task %d: %s [%s]\n", created.ID, created.Title, created.Priority)
			if created.DueDate != nil {
				fmt.Printf("   due %s\n", created.DueDate.Format("Mon Jan 2 15:04"))
			}
			if result.Fallback {
				fmt.Printf("⚠️  AI unavailable, used literal parsing (%s)\n", result.Reason)
			} else {
				fmt.Printf("   confidence %.0f%%: %s\n", result.Parsed.Confidence*100, result.Parsed.Reasoning)
				for _, sub := range result.Parsed.Subtasks {
					fmt.Printf("   suggested subtask: %s\n", sub)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "Conversation session ID")
	return cmd
}

func listCmd() *cobra.Command {
	var (
		status   string
		priority string
		category string
		project  string
		search   string
		dueSoon  bool
		overdue  bool
		limit    int
		offset   int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.Close()

			filter := db.TaskFilter{
				Status:   types.TaskStatus(status),
				Priority: types.TaskPriority(priority),
				Category: category,
				Project:  project,
				Search:   search,
				DueSoon:  dueSoon,
				Overdue:  overdue,
				Limit:    limit,
				Offset:   offset,
			}

			tasks, total, err := a.service.List(cmd.Context(), userID, filter)
			if err != nil {
				return err
			}

			if len(tasks) == 0 {
				fmt.Println("No tasks found.")
				return nil
			}

			now := time.Now().UTC()
			for _, t := range tasks {
				fmt.Println(formatTaskLine(t, now))
			}
			if total > len(tasks) {
				fmt.Printf("(%d of %d shown, use --limit/--offset for more)\n", len(tasks), total)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&status, "status", "s", "", "Filter by status (pending, in_progress, completed, cancelled)")
	cmd.Flags().StringVarP(&priority, "priority", "p", "", "Filter by priority")
	cmd.Flags().StringVar(&category, "category", "", "Filter by category")
	cmd.Flags().StringVar(&project, "project", "", "Filter by project")
	cmd.Flags().StringVar(&search, "search", "", "Search in title and description")
	cmd.Flags().BoolVar(&dueSoon, "due-soon", false, "Only tasks due within 7 days")
	cmd.Flags().BoolVar(&overdue, "overdue", false, "Only overdue tasks")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of tasks")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of tasks to skip")
	return cmd
}

func searchCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Full-text search across tasks",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.Close()

			searcher, err := search.NewSearcher(a.store.DB, a.logger)
			if err != nil {
				return err
			}

			results, err := searcher.Search(userID, strings.Join(args, " "), limit)
			if err != nil {
				return err
			}

			if len(results) == 0 {
				fmt.Println("No matches.")
				return nil
			}
			for _, r := range results {
				fmt.Printf("[%d] %s (%s)\n      %s\n", r.TaskID, r.Title, r.Status, r.Snippet)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of results")
	return cmd
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task with its dependencies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID, err := parseTaskID(args[0])
			if err != nil {
				return err
			}

			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.Close()

			t, err := a.service.Get(cmd.Context(), userID, taskID)
			if err != nil {
				return err
			}

			fmt.Printf("Task %d: %s\n", t.ID, t.Title)
			fmt.Printf("  status: %s, priority: %s\n", t.Status, t.Priority)
			if t.Description != nil {
				fmt.Printf("  %s\n", *t.Description)
			}
			if t.DueDate != nil {
				fmt.Printf("  due: %s\n", t.DueDate.Format(time.RFC1123))
			}
			if t.EstimatedDuration != nil {
				fmt.Printf("  estimated: %d min\n", *t.EstimatedDuration)
			}
			if len(t.Tags) > 0 {
				fmt.Printf("  tags: %s\n", strings.Join(t.Tags, ", "))
			}
			if t.AIPriorityScore != nil {
				fmt.Printf("  scores: priority %d, complexity %d\n",
					*t.AIPriorityScore, deref(t.AIComplexityScore))
			}
			if t.AISuggestedTimeSlot != nil {
				fmt.Printf("  suggested slot: %s\n", t.AISuggestedTimeSlot.Format(time.RFC1123))
			}

			deps, err := a.service.ListDependencies(cmd.Context(), userID, taskID)
			if err != nil {
				return err
			}
			if len(deps) > 0 {
				fmt.Println("  depends on:")
				for _, d := range deps {
					fmt.Printf("    [%d] %s (%s, %s)\n", d.TaskID, d.Title, d.Status, d.DependencyType)
				}
			}

			dependents, err := a.service.ListDependents(cmd.Context(), userID, taskID)
			if err != nil {
				return err
			}
			if len(dependents) > 0 {
				fmt.Println("  blocks:")
				for _, d := range dependents {
					fmt.Printf("    [%d] %s (%s)\n", d.TaskID, d.Title, d.Status)
				}
			}
			return nil
		},
	}
}

func updateCmd() *cobra.Command {
	var (
		title    string
		desc     string
		status   string
		priority string
		due      string
		duration int
	)

	cmd := &cobra.Command{
		Use:   "update <task-id>",
		Short: "Update a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID, err := parseTaskID(args[0])
			if err != nil {
				return err
			}

			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.Close()

			var in task.UpdateInput
			if title != "" {
				in.Title = &title
			}
			if desc != "" {
				in.Description = &desc
			}
			if status != "" {
				s := types.TaskStatus(status)
				in.Status = &s
			}
			if priority != "" {
				p := types.TaskPriority(priority)
				in.Priority = &p
			}
			if due != "" {
				t, err := parseCLIDate(due)
				if err != nil {
					return fmt.Errorf("parsing --due: %w", err)
				}
				in.DueDate = &t
			}
			if duration > 0 {
				in.EstimatedDuration = &duration
			}

			updated, err := a.service.Update(cmd.Context(), userID, taskID, in)
			if err != nil {
				return err
			}

			fmt.Printf("✅ Updated task %d: %s [%s/%s]\n", updated.ID, updated.Title, updated.Status, updated.Priority)
			return nil
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "New title")
	cmd.Flags().StringVarP(&desc, "description", "d", "", "New description")
	cmd.Flags().StringVarP(&status, "status", "s", "", "New status")
	cmd.Flags().StringVarP(&priority, "priority", "p", "", "New priority")
	cmd.Flags().StringVar(&due, "due", "", "New due date")
	cmd.Flags().IntVar(&duration, "duration", 0, "New estimated duration in minutes")
	return cmd
}

func completeCmd() *cobra.Command {
	var actualDuration int

	cmd := &cobra.Command{
		Use:   "complete <task-id>",
		Short: "Mark a task as completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID, err := parseTaskID(args[0])
			if err != nil {
				return err
			}

			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.Close()

			var dur *int
			if actualDuration > 0 {
				dur = &actualDuration
			}

			t, err := a.service.Complete(cmd.Context(), userID, taskID, dur)
			if err != nil {
				return err
			}

			fmt.Printf("🎉 Completed task %d: %s\n", t.ID, t.Title)
			return nil
		},
	}

	cmd.Flags().IntVar(&actualDuration, "duration", 0, "Actual duration in minutes")
	return cmd
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <task-id>",
		Short: "Delete a task and its subtasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID, err := parseTaskID(args[0])
			if err != nil {
				return err
			}

			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.service.Delete(cmd.Context(), userID, taskID); err != nil {
				return err
			}

			fmt.Printf("🗑️  Deleted task %d\n", taskID)
			return nil
		},
	}
}

func dependCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "depend",
		Short: "Manage task dependencies",
	}

	var depType string
	addSub := &cobra.Command{
		Use:   "add <task-id> <depends-on-id>",
		Short: "Make one task depend on another",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			dependsOnID, err := parseTaskID(args[1])
			if err != nil {
				return err
			}

			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.Close()

			dep, err := a.service.AddDependency(cmd.Context(), userID, taskID, dependsOnID, types.DependencyType(depType))
			if err != nil {
				return err
			}

			fmt.Printf("🔗 Task %d now depends on task %d (%s)\n", dep.TaskID, dep.DependsOnID, dep.DependencyType)
			return nil
		},
	}
	addSub.Flags().StringVar(&depType, "type", string(types.DependencyFinishToStart), "Dependency type (finish_to_start, start_to_start)")

	rmSub := &cobra.Command{
		Use:   "rm <task-id> <depends-on-id>",
		Short: "Remove a dependency",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			dependsOnID, err := parseTaskID(args[1])
			if err != nil {
				return err
			}

			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.service.RemoveDependency(cmd.Context(), userID, taskID, dependsOnID); err != nil {
				return err
			}

			fmt.Printf("Removed dependency of task %d on task %d\n", taskID, dependsOnID)
			return nil
		},
	}

	listSub := &cobra.Command{
		Use:   "list <task-id>",
		Short: "List what a task depends on and what it blocks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID, err := parseTaskID(args[0])
			if err != nil {
				return err
			}

			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.Close()

			deps, err := a.service.ListDependencies(cmd.Context(), userID, taskID)
			if err != nil {
				return err
			}
			dependents, err := a.service.ListDependents(cmd.Context(), userID, taskID)
			if err != nil {
				return err
			}

			if len(deps) == 0 && len(dependents) == 0 {
				fmt.Printf("Task %d has no dependencies.\n", taskID)
				return nil
			}
			for _, d := range deps {
				fmt.Printf("depends on [%d] %s (%s, %s)\n", d.TaskID, d.Title, d.Status, d.DependencyType)
			}
			for _, d := range dependents {
				fmt.Printf("blocks     [%d] %s (%s)\n", d.TaskID, d.Title, d.Status)
			}
			return nil
		},
	}

	root.AddCommand(addSub, rmSub, listSub)
	return root
}

func optimizeCmd() *cobra.Command {
	var all bool
	var sessionID string

	cmd := &cobra.Command{
		Use:   "optimize [task-id]",
		Short: "Ask the AI for schedule suggestions",
		Long: `Ask the AI to suggest time slots.

With a task ID, optimizes that task's schedule and stores the suggested
slot. With --all, refreshes suggestions for the whole active backlog.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if all {
				n, err := a.service.OptimizeUserSchedule(cmd.Context(), userID)
				if err != nil {
					return err
				}
				fmt.Printf("📅 Updated suggested slots for %d tasks\n", n)
				return nil
			}

			if len(args) == 0 {
				return fmt.Errorf("provide a task ID or use --all")
			}
			taskID, err := parseTaskID(args[0])
			if err != nil {
				return err
			}

			t, result, err := a.service.OptimizeScheduling(cmd.Context(), userID, taskID, sessionID)
			if err != nil {
				return err
			}

			if result.Fallback {
				fmt.Printf("⚠️  %s\n", result.Reason)
			}
			if t.AISuggestedTimeSlot != nil {
				fmt.Printf("📅 Task %d suggested slot: %s\n", t.ID, t.AISuggestedTimeSlot.Format(time.RFC1123))
			}
			for _, tip := range result.Optimization.Tips {
				fmt.Printf("💡 %s\n", tip)
			}
			if result.Optimization.Score > 0 {
				fmt.Printf("   optimization score: %.0f\n", result.Optimization.Score)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Optimize the whole active backlog")
	cmd.Flags().StringVar(&sessionID, "session", "", "Conversation session ID")
	return cmd
}

func insightsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "insights",
		Short: "Generate AI productivity insights",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.service.GenerateInsights(cmd.Context(), userID)
			if err != nil {
				return err
			}

			if result.Fallback {
				fmt.Printf("⚠️  %s\n", result.Reason)
			}
			if len(result.Insights) == 0 {
				fmt.Println("No insights available yet. Complete a few tasks first.")
				return nil
			}
			for _, ins := range result.Insights {
				fmt.Printf("💡 [%s] %s\n", ins.Type, ins.Title)
				fmt.Printf("   %s\n", ins.Description)
				if ins.ImpactScore > 0 || ins.Confidence > 0 {
					fmt.Printf("   impact %.0f%%, confidence %.0f%%\n", ins.ImpactScore*100, ins.Confidence*100)
				}
				for _, rec := range ins.Recommendations {
					fmt.Printf("   → %s\n", rec)
				}
			}
			return nil
		},
	}
}

func analyticsCmd() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "analytics",
		Short: "Show task analytics",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := a.service.Analytics(cmd.Context(), userID, days)
			if err != nil {
				return err
			}

			fmt.Printf("📊 Last %d days:\n", stats.PeriodDays)
			fmt.Printf("  total tasks:      %d\n", stats.TotalTasks)
			fmt.Printf("  completed:        %d\n", stats.CompletedTasks)
			fmt.Printf("  pending:          %d\n", stats.PendingTasks)
			fmt.Printf("  overdue:          %d\n", stats.OverdueTasks)
			fmt.Printf("  completion rate:  %.1f%%\n", stats.CompletionRate)
			fmt.Printf("  productivity:     %.1f\n", stats.ProductivityScore)
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 7, "Analysis window in days")
	return cmd
}

// parseCLIDate accepts the date formats users type at the shell
func parseCLIDate(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q (use 2006-01-02 or RFC3339)", s)
}

func parseTaskID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid task ID %q", s)
	}
	return id, nil
}

func formatTaskLine(t *types.Task, now time.Time) string {
	marker := " "
	switch {
	case t.Status == types.TaskStatusCompleted:
		marker = "✓"
	case t.IsOverdue(now):
		marker = "!"
	case t.Status == types.TaskStatusInProgress:
		marker = "▶"
	}

	line := fmt.Sprintf("%s [%d] %-40s %s/%s", marker, t.ID, truncateTitle(t.Title, 40), t.Status, t.Priority)
	if t.DueDate != nil {
		line += fmt.Sprintf("  due %s", t.DueDate.Format("Jan 2 15:04"))
	}
	return line
}

func truncateTitle(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
