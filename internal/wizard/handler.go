package wizard

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/supplywise/supplybot/internal/abort"
	"github.com/supplywise/supplybot/internal/config"
	"github.com/supplywise/supplybot/internal/db"
	"github.com/supplywise/supplybot/internal/logging"
	"github.com/supplywise/supplybot/internal/marketplace"
	"github.com/supplywise/supplybot/internal/models"
	"github.com/supplywise/supplybot/internal/notify"
	"github.com/supplywise/supplybot/internal/orchestrator"
)

// Handler is the top-level wizard controller. It receives user text and
// callback actions from the chat transport, mutates wizard state,
// launches orchestrator runs and reacts to their lifecycle events.
type Handler struct {
	cfg      *config.Config
	store    *Store
	orders   *db.OrderRepository
	creds    *db.CredentialRepository
	client   marketplace.Client
	runner   *orchestrator.Runner
	aborts   *abort.Registry
	notifier notify.Notifier
	logger   zerolog.Logger

	// pendingKeys holds api keys between the two auth input stages so
	// they never enter a persisted WizardState snapshot.
	pendingKeys sync.Map
}

// NewHandler wires the wizard controller.
func NewHandler(
	cfg *config.Config,
	store *Store,
	orders *db.OrderRepository,
	creds *db.CredentialRepository,
	client marketplace.Client,
	runner *orchestrator.Runner,
	aborts *abort.Registry,
	notifier notify.Notifier,
) *Handler {
	return &Handler{
		cfg:      cfg,
		store:    store,
		orders:   orders,
		creds:    creds,
		client:   client,
		runner:   runner,
		aborts:   aborts,
		notifier: notifier,
		logger:   logging.Component("wizard"),
	}
}

// Registry exposes the abort registry for the recovery service, which
// shares the at-most-one-run-per-task invariant with the live wizard.
func (h *Handler) Registry() *abort.Registry {
	return h.aborts
}

// HandleText processes free-text user input according to the current stage.
func (h *Handler) HandleText(ctx context.Context, chatID int64, text string) error {
	state := h.store.State(ctx, chatID)
	text = strings.TrimSpace(text)

	switch state.Stage {
	case models.StageAuthWelcome, models.StageAuthAPIKey:
		return h.handleAPIKeyInput(ctx, state, text)
	case models.StageAuthClientID:
		return h.handleClientIDInput(ctx, state, text)
	case models.StageAwaitDropOffQuery:
		return h.handleDropOffQuery(ctx, state, text)
	case models.StageAwaitReadyDays:
		return h.handleReadyDaysInput(ctx, state, text)
	default:
		h.notifier.NotifyUser(ctx, chatID, "Use the buttons to continue.")
		return nil
	}
}

func (h *Handler) handleAPIKeyInput(ctx context.Context, state *models.WizardState, text string) error {
	if text == "" {
		h.notifier.NotifyUser(ctx, state.ChatID, "API key must not be empty, try again.")
		return nil
	}
	// The key is held outside WizardState so it never lands in a
	// persisted snapshot.
	h.pendingKeys.Store(state.ChatID, text)
	state.Stage = models.StageAuthClientID
	return h.store.Save(ctx, state)
}

func (h *Handler) handleClientIDInput(ctx context.Context, state *models.WizardState, text string) error {
	if text == "" {
		h.notifier.NotifyUser(ctx, state.ChatID, "Client id must not be empty, try again.")
		return nil
	}

	apiKey, _ := h.pendingKeys.LoadAndDelete(state.ChatID)
	key, _ := apiKey.(string)
	if key == "" {
		state.Stage = models.StageAuthAPIKey
		h.notifier.NotifyUser(ctx, state.ChatID, "Send the API key first.")
		return h.store.Save(ctx, state)
	}

	creds := models.Credentials{ChatID: state.ChatID, ClientID: text, APIKey: key}
	if err := h.creds.Set(ctx, creds); err != nil {
		return fmt.Errorf("failed to store credentials: %w", err)
	}

	state.Stage = models.StageLanding
	h.notifier.NotifyUser(ctx, state.ChatID, "Credentials saved.")
	h.logger.Info().Int64("chat_id", state.ChatID).Str("api_key", logging.MaskKey(key)).Msg("credentials stored")
	return h.store.Save(ctx, state)
}

func (h *Handler) handleDropOffQuery(ctx context.Context, state *models.WizardState, text string) error {
	if text == "" {
		h.notifier.NotifyUser(ctx, state.ChatID, "Enter a city or warehouse name to search.")
		return nil
	}

	creds, err := h.creds.Get(ctx, state.ChatID)
	if err != nil {
		return h.requireAuth(ctx, state, err)
	}

	points, err := h.client.SearchWarehouses(ctx, creds, text, "CREATE_TYPE_CROSSDOCK")
	if err != nil {
		h.notifier.NotifyUser(ctx, state.ChatID, "Drop-off search failed: "+err.Error())
		return nil
	}
	if len(points) == 0 {
		h.notifier.NotifyUser(ctx, state.ChatID, "Nothing found, try another query.")
		return nil
	}

	state.DropOffs = points
	state.Stage = models.StageDropOffSelect
	return h.store.Save(ctx, state)
}

// handleReadyDaysInput accepts 0 (earliest available) or an integer in
// [1, maxReadyDays]. Anything else re-prompts without a transition.
func (h *Handler) handleReadyDaysInput(ctx context.Context, state *models.WizardState, text string) error {
	days, err := strconv.Atoi(text)
	if err != nil || days < 0 || days > h.cfg.Wizard.MaxReadyDays {
		h.notifier.NotifyUser(ctx, state.ChatID,
			fmt.Sprintf("Enter 0 for the earliest slot or a number of days between 1 and %d.", h.cfg.Wizard.MaxReadyDays))
		return nil
	}

	applyReadyDays(state, days)
	if err := h.persistActive(ctx, state); err != nil {
		return err
	}
	return h.startActiveTask(ctx, state)
}

// IngestTasks registers tasks produced by a spreadsheet upload: one
// TaskContext and one pending order record per task.
func (h *Handler) IngestTasks(ctx context.Context, chatID int64, tasks []*models.SupplyTask) error {
	state := h.store.State(ctx, chatID)
	now := time.Now().UTC()

	for _, task := range tasks {
		// Ingestion is where the chat scope gets stamped on; the task must
		// carry it before validation can pass.
		task.ChatID = chatID
		if err := task.Validate(); err != nil {
			h.notifier.NotifyUser(ctx, chatID, fmt.Sprintf("Task %s rejected: %v", task.TaskID, err))
			continue
		}

		taskCtx := &models.TaskContext{
			ChatID:       chatID,
			TaskID:       task.TaskID,
			Task:         task,
			SummaryItems: summarizeItems(task.Items),
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := h.store.SaveTaskContext(ctx, taskCtx); err != nil {
			return fmt.Errorf("failed to save task context: %w", err)
		}

		record := &models.SupplyOrderRecord{
			ChatID: chatID,
			TaskID: task.TaskID,
			Task:   task,
		}
		if err := h.orders.SaveTask(ctx, record); err != nil {
			return fmt.Errorf("failed to persist pending task: %w", err)
		}
	}

	if len(tasks) > 0 {
		state.SelectedTaskID = tasks[0].TaskID
		state.Stage = models.StageClusterPrompt
		if tasks[0].DropOffWarehouseID == 0 {
			state.Stage = models.StageAwaitDropOffQuery
		}
	}
	return h.store.Save(ctx, state)
}

// requireAuth bounces a chat without credentials back into the auth flow.
func (h *Handler) requireAuth(ctx context.Context, state *models.WizardState, cause error) error {
	if !errors.Is(cause, db.ErrCredentialsNotFound) {
		return cause
	}
	state.Stage = models.StageAuthAPIKey
	h.notifier.NotifyUser(ctx, state.ChatID, "Connect your seller account first: send the API key.")
	return h.store.Save(ctx, state)
}

// persistActive saves the wizard state and mirrors it onto the active
// task context so the two never diverge.
func (h *Handler) persistActive(ctx context.Context, state *models.WizardState) error {
	if state.SelectedTaskID != "" {
		taskCtx, err := h.store.TaskContext(ctx, state.ChatID, state.SelectedTaskID)
		switch {
		case errors.Is(err, db.ErrSessionNotFound):
			// Stale pointer; drop it rather than resurrecting the task.
			state.SelectedTaskID = ""
		case err != nil:
			return err
		default:
			syncToTaskContext(state, taskCtx)
			taskCtx.UpdatedAt = time.Now().UTC()
			if err := h.store.SaveTaskContext(ctx, taskCtx); err != nil {
				return err
			}
		}
	}
	return h.store.Save(ctx, state)
}

func summarizeItems(items []models.TaskItem) []string {
	lines := make([]string, 0, len(items))
	for _, item := range items {
		lines = append(lines, fmt.Sprintf("%s x%d", item.Article, item.Quantity))
	}
	return lines
}
