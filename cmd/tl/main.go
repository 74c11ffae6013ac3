package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskline/internal/app"
	"taskline/internal/config"
	"taskline/internal/db"
	"taskline/internal/domain"
	"taskline/internal/engine"
	"taskline/internal/paging"
	"taskline/internal/router"
	"taskline/internal/server"
	"taskline/internal/session"
)

var rootCmd = &cobra.Command{
	Use:   "tl",
	Short: "Taskline CLI",
	Long: `Taskline is a role-gated task tracker with a chat-style front end.
Users create tasks and comment on them; managers move tasks through the
new -> in_progress -> done lifecycle; admins manage user roles. State
lives in a SQLite database under the workspace's .taskline directory.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TASKLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor", "local-user", "caller identity")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor", rootCmd.PersistentFlags().Lookup("actor"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(commentCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var admin string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			if admin == "" {
				return fmt.Errorf("--admin required")
			}
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("config %s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(admin)), 0o644); err != nil {
				return err
			}
			appCtx, err := app.Bootstrap(cmd.Context(), workspace, admin)
			if err != nil {
				return err
			}
			defer appCtx.Close()
			fmt.Printf("Initialized workspace: config %s, database %s, root admin %s\n",
				path, db.Path(workspace), admin)
			return nil
		},
	}
	cmd.Flags().StringVar(&admin, "admin", "", "root admin identity")
	_ = cmd.MarkFlagRequired("admin")
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show task counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				counts, err := e.Repo.CountTasksByStatus(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(counts)
				}
				fmt.Println("Tasks:")
				for _, s := range domain.AllStatuses {
					fmt.Printf("  %s: %d\n", s, counts[s])
				}
				return nil
			})
		},
	}
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		Long:  "Tasks flow new -> in_progress -> done; a done task can be reopened. Only managers and admins move tasks or delete them.",
	}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskStatusChangeCmd("take", "Move a task into work", domain.StatusInProgress))
	task.AddCommand(taskStatusChangeCmd("complete", "Finish a task", domain.StatusDone))
	task.AddCommand(taskStatusChangeCmd("reopen", "Put a done task back into work", domain.StatusInProgress))
	task.AddCommand(taskDeleteCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var description string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTask(ctx, viper.GetString("actor"), description)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "task description")
	_ = cmd.MarkFlagRequired("description")
	return cmd
}

func taskListCmd() *cobra.Command {
	var q engine.TaskQuery
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				page, err := e.ListTasks(ctx, viper.GetString("actor"), q)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(page)
				}
				renderTaskPage(page)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&q.Status, "status", "", "status filter (new, in_progress, done, all)")
	cmd.Flags().StringVar(&q.Author, "author", "", "author filter")
	cmd.Flags().StringVar(&q.Period, "period", "", "period filter (today, week, month, all)")
	cmd.Flags().StringVar(&q.From, "from", "", "start date (dd.mm.yyyy)")
	cmd.Flags().StringVar(&q.To, "to", "", "end date (dd.mm.yyyy)")
	cmd.Flags().IntVar(&q.Page, "page", 1, "page number")
	return cmd
}

func taskShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task with its comments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				card, err := e.GetTaskCard(ctx, viper.GetString("actor"), id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(card)
				}
				renderTaskCard(card)
				return nil
			})
		},
	}
	return cmd
}

func taskStatusChangeCmd(use, short string, target domain.Status) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.ChangeStatus(ctx, viper.GetString("actor"), id, target)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task and its comments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteTask(ctx, viper.GetString("actor"), id); err != nil {
					return err
				}
				fmt.Printf("Task #%d deleted\n", id)
				return nil
			})
		},
	}
	return cmd
}

func commentCmd() *cobra.Command {
	comment := &cobra.Command{Use: "comment", Short: "Manage task comments"}
	comment.AddCommand(commentAddCmd())
	comment.AddCommand(commentListCmd())
	return comment
}

func commentAddCmd() *cobra.Command {
	var text string
	cmd := &cobra.Command{
		Use:   "add <task-id>",
		Short: "Add a comment to a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.AddComment(ctx, viper.GetString("actor"), id, text)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "comment text")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

func commentListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <task-id>",
		Short: "List a task's comments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				comments, err := e.ListComments(ctx, viper.GetString("actor"), id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(comments)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Author", "Text", "Created"})
				for _, c := range comments {
					tw.AppendRow(table.Row{c.ID, c.Author, c.Text, c.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func userCmd() *cobra.Command {
	user := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
		Long:  "Users register implicitly on first interaction. Role changes and deletion require the admin role; the root admin is immutable.",
	}
	user.AddCommand(userListCmd())
	user.AddCommand(userAddCmd())
	user.AddCommand(userSetRoleCmd("promote", "Grant the manager role", string(domain.RoleManager)))
	user.AddCommand(userSetRoleCmd("demote", "Revert to the user role", string(domain.RoleUser)))
	user.AddCommand(userSetRoleFlagCmd())
	user.AddCommand(userDeleteCmd())
	return user
}

func userListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				users, err := e.ListUsers(ctx, viper.GetString("actor"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(users)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Identity", "Role", "Root", "Created"})
				for _, u := range users {
					root := ""
					if u.Identity == e.Policy.RootAdmin {
						root = "yes"
					}
					tw.AppendRow(table.Row{u.Identity, u.Role, root, u.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func userAddCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "add <identity>",
		Short: "Explicitly register a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.CreateUser(ctx, viper.GetString("actor"), args[0], domain.Role(role))
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", string(domain.RoleUser), "role (user, manager, admin)")
	return cmd
}

func userSetRoleCmd(use, short, role string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use + " <identity>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.SetUserRole(ctx, viper.GetString("actor"), args[0], domain.Role(role)); err != nil {
					return err
				}
				fmt.Printf("%s is now %s\n", args[0], role)
				return nil
			})
		},
	}
	return cmd
}

func userSetRoleFlagCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "set-role <identity>",
		Short: "Set an explicit role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.SetUserRole(ctx, viper.GetString("actor"), args[0], domain.Role(role)); err != nil {
					return err
				}
				fmt.Printf("%s is now %s\n", args[0], role)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "role (user, manager, admin)")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func userDeleteCmd() *cobra.Command {
	var reassign bool
	cmd := &cobra.Command{
		Use:   "delete <identity>",
		Short: "Delete a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteUser(ctx, viper.GetString("actor"), args[0], reassign); err != nil {
					return err
				}
				fmt.Printf("%s removed\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&reassign, "reassign", false, "reassign owned tasks to the root admin")
	return cmd
}

func chatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat-style session",
		Long: `Drives the same intent router the chat front end uses. Commands:
  new [description]      create a task (prompts if description omitted)
  list [page]            list your tasks (all tasks for managers)
  show <id>              show a task with comments
  comment <id> [text]    comment on a task (prompts if text omitted)
  take|done|reopen <id>  change task status
  delete <id>            delete a task
  promote|demote <identity>
  users                  list users (admin)
  cancel                 abandon a pending prompt
  quit                   leave the session`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				caller := viper.GetString("actor")
				sessions := session.NewManager(e.Config.SessionTTL())
				rt := router.New(e, sessions, nil)
				scanner := bufio.NewScanner(os.Stdin)
				fmt.Printf("taskline chat as %s (quit to exit)\n", caller)
				for {
					fmt.Print("> ")
					if !scanner.Scan() {
						return scanner.Err()
					}
					line := strings.TrimSpace(scanner.Text())
					if line == "" {
						continue
					}
					if line == "quit" || line == "exit" {
						return nil
					}
					intent, params := parseChatLine(line)
					res := rt.Dispatch(ctx, caller, intent, params)
					renderChatResult(res)
				}
			})
		},
	}
	return cmd
}

// parseChatLine maps one chat message onto a router intent. Anything not
// recognized as a command is free text completing a pending prompt.
func parseChatLine(line string) (router.Intent, router.Params) {
	fields := strings.Fields(line)
	word := fields[0]
	rest := strings.TrimSpace(strings.TrimPrefix(line, word))
	switch word {
	case "new":
		return router.IntentCreateTask, router.Params{Text: rest}
	case "list":
		page := 1
		if len(fields) > 1 {
			if n, err := strconv.Atoi(fields[1]); err == nil {
				page = n
			}
		}
		return router.IntentListTasks, router.Params{Query: engine.TaskQuery{Page: page}}
	case "show":
		if id, err := parseChatID(fields); err == nil {
			return router.IntentViewTask, router.Params{TaskID: id}
		}
	case "comment":
		if id, err := parseChatID(fields); err == nil {
			text := ""
			if len(fields) > 2 {
				text = strings.TrimSpace(strings.TrimPrefix(rest, fields[1]))
			}
			return router.IntentComment, router.Params{TaskID: id, Text: text}
		}
	case "take":
		if id, err := parseChatID(fields); err == nil {
			return router.IntentChangeStatus, router.Params{TaskID: id, Status: domain.StatusInProgress}
		}
	case "done":
		if id, err := parseChatID(fields); err == nil {
			return router.IntentChangeStatus, router.Params{TaskID: id, Status: domain.StatusDone}
		}
	case "reopen":
		if id, err := parseChatID(fields); err == nil {
			return router.IntentChangeStatus, router.Params{TaskID: id, Status: domain.StatusInProgress}
		}
	case "delete":
		if id, err := parseChatID(fields); err == nil {
			return router.IntentDeleteTask, router.Params{TaskID: id}
		}
	case "promote":
		if len(fields) > 1 {
			return router.IntentPromoteUser, router.Params{Target: fields[1]}
		}
	case "demote":
		if len(fields) > 1 {
			return router.IntentDemoteUser, router.Params{Target: fields[1]}
		}
	case "users":
		return router.IntentListUsers, router.Params{}
	case "cancel":
		return router.IntentCancel, router.Params{}
	}
	return router.IntentFreeText, router.Params{Text: line}
}

func parseChatID(fields []string) (int64, error) {
	if len(fields) < 2 {
		return 0, fmt.Errorf("id required")
	}
	return strconv.ParseInt(fields[1], 10, 64)
}

func renderChatResult(res router.Result) {
	if res.Prompt != "" {
		fmt.Println(res.Prompt)
		return
	}
	if !res.OK {
		fmt.Printf("[%s] %s\n", res.ErrorKind, res.Message)
		return
	}
	switch data := res.Data.(type) {
	case paging.Page:
		renderTaskPage(data)
	case engine.TaskCard:
		renderTaskCard(data)
	case []domain.User:
		for _, u := range data {
			fmt.Printf("%s (%s)\n", u.Identity, u.Role)
		}
	default:
		if res.Message != "" {
			fmt.Println(res.Message)
		} else if data != nil {
			b, _ := json.MarshalIndent(data, "", "  ")
			fmt.Println(string(b))
		}
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			appCtx, err := app.Bootstrap(cmd.Context(), workspace, "")
			if err != nil {
				return err
			}
			defer appCtx.Close()
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("TASKLINE_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("TASKLINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: appCtx.Engine, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Taskline API on http://%s%s (OpenAPI at %s/openapi.json)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	appCtx, err := app.Bootstrap(ctx, workspace, "")
	if err != nil {
		return err
	}
	defer appCtx.Close()
	return fn(ctx, appCtx.Engine)
}

func parseTaskID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid task id %q", s)
	}
	return id, nil
}

func renderTaskPage(p paging.Page) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Description", "Status", "Author", "Created"})
	for _, t := range p.Items {
		tw.AppendRow(table.Row{t.ID, t.Description, t.Status, t.CreatedBy, t.CreatedAt})
	}
	tw.Render()
	fmt.Printf("Page %d/%d (%d tasks)\n", p.Number, p.TotalPages, p.TotalItems)
}

func renderTaskCard(card engine.TaskCard) {
	t := card.Task
	fmt.Printf("Task #%d [%s] by %s\n%s\n", t.ID, t.Status, t.CreatedBy, t.Description)
	fmt.Printf("Comments (%d):\n", card.CommentCount)
	for _, c := range card.Comments {
		fmt.Printf("  %s: %s (%s)\n", c.Author, c.Text, c.CreatedAt)
	}
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
