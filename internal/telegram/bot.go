package telegram

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"shoplist/internal/clipper"
	"shoplist/internal/command"
	"shoplist/internal/config"
	"shoplist/internal/engine"
	"shoplist/internal/list"
	"shoplist/internal/metrics"
	"shoplist/internal/roster"
	"shoplist/internal/store"
)

// Bot wraps the Telegram API around the sync engine. Every allowed user chats
// with their own default list; free text goes through the command
// interpreter, URLs through the clipper.
type Bot struct {
	api          *tgbotapi.BotAPI
	store        store.Store
	roster       *roster.Service
	interp       *command.Interpreter
	clipper      *clipper.Clipper
	metricsStore *metrics.Store
	cfg          *config.Config

	mu      sync.Mutex
	engines map[string]*engine.Engine
}

// NewBot initializes the Telegram Bot and sets the Webhook.
func NewBot(
	cfg *config.Config,
	st store.Store,
	rosterSvc *roster.Service,
	interp *command.Interpreter,
	clip *clipper.Clipper,
	metricsStore *metrics.Store,
) (*Bot, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to init telegram api: %w", err)
	}

	log.Printf("Authorized on account %s", bot.Self.UserName)

	wh, _ := tgbotapi.NewWebhook(cfg.TelegramWebhookURL)
	resp, err := bot.Request(wh)
	if err != nil {
		return nil, fmt.Errorf("failed to set webhook to %s: %w", cfg.TelegramWebhookURL, err)
	}
	log.Printf("Webhook set response: %s", resp.Description)

	return &Bot{
		api:          bot,
		store:        st,
		roster:       rosterSvc,
		interp:       interp,
		clipper:      clip,
		metricsStore: metricsStore,
		cfg:          cfg,
		engines:      make(map[string]*engine.Engine),
	}, nil
}

// RegisterHandlers registers the webhook handler with the default HTTP mux.
func (b *Bot) RegisterHandlers() {
	http.HandleFunc("/webhook", b.handleWebhook)
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

func (b *Bot) handleWebhook(w http.ResponseWriter, r *http.Request) {
	update, err := b.api.HandleUpdate(r)
	if err != nil {
		log.Printf("Error parsing update: %v", err)
		return
	}

	if update.CallbackQuery != nil {
		if b.isAllowed(update.CallbackQuery.From.ID) {
			go b.handleCallbackQuery(update.CallbackQuery)
		}
		return
	}

	if update.Message == nil {
		return
	}

	if !b.isAllowed(update.Message.From.ID) {
		log.Printf("⚠️ Unauthorized access attempt from UserID: %d (@%s)", update.Message.From.ID, update.Message.From.UserName)
		return
	}

	go b.processMessage(update.Message)
}

func (b *Bot) isAllowed(userID int64) bool {
	for _, id := range b.cfg.TelegramAllowedUserIDs {
		if userID == id {
			return true
		}
	}
	return false
}

// userEngine returns a started engine for the user's default list, creating
// both on first contact.
func (b *Bot) userEngine(ctx context.Context, userID string) (*engine.Engine, *list.Summary, error) {
	summary, err := b.roster.GetOrCreateDefaultList(ctx, userID)
	if err != nil {
		return nil, nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if eng, ok := b.engines[summary.ID]; ok {
		return eng, summary, nil
	}

	eng := engine.New(summary.ID, b.store, b.store, b.interp, b.metricsStore)
	if err := eng.Start(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to start list engine: %w", err)
	}
	b.engines[summary.ID] = eng
	return eng, summary, nil
}

func (b *Bot) processMessage(msg *tgbotapi.Message) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	switch {
	case text == "/metrics":
		b.handleMetricsRequest(msg)
	case text == "/items" || text == "/list" || text == "/start":
		b.handleItemsRequest(msg)
	case strings.HasPrefix(text, "/sort"):
		b.handleSortRequest(msg, text)
	case text == "/invite":
		b.handleInviteRequest(msg)
	case text == "/code":
		b.handleCodeRequest(msg)
	case strings.HasPrefix(text, "/join"):
		b.handleJoinRequest(msg, text)
	case strings.HasPrefix(text, "/accept"):
		b.handleAcceptRequest(msg, text)
	case strings.HasPrefix(text, "http://") || strings.HasPrefix(text, "https://"):
		b.handleClipperRequest(msg)
	default:
		b.handleCommandRequest(msg)
	}
}

func (b *Bot) handleCommandRequest(msg *tgbotapi.Message) {
	sentMsg, ok := b.sendStatus(msg.Chat.ID, "🛒 *Working on it...*")
	if !ok {
		return
	}

	ctx := context.Background()
	userID := fmt.Sprintf("%d", msg.From.ID)

	eng, _, err := b.userEngine(ctx, userID)
	if err != nil {
		b.editError(msg.Chat.ID, sentMsg.MessageID, "Error loading your list", err)
		return
	}

	if err := eng.ProcessTextCommand(ctx, msg.Text); err != nil {
		b.editError(msg.Chat.ID, sentMsg.MessageID, "Error processing command", err)
		return
	}

	state := eng.Snapshot()
	if state.Confirmation != nil {
		keyboard := tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("✅ Confirm", "confirm"),
				tgbotapi.NewInlineKeyboardButtonData("❌ Cancel", "cancel"),
			),
		)
		edit := tgbotapi.NewEditMessageText(msg.Chat.ID, sentMsg.MessageID, "❓ "+state.Confirmation.Question)
		edit.ReplyMarkup = &keyboard
		b.api.Send(edit)
		return
	}

	edit := tgbotapi.NewEditMessageText(msg.Chat.ID, sentMsg.MessageID, formatItems(state))
	edit.ParseMode = "Markdown"
	b.api.Send(edit)
}

func (b *Bot) handleCallbackQuery(query *tgbotapi.CallbackQuery) {
	ctx := context.Background()
	userID := fmt.Sprintf("%d", query.From.ID)

	eng, _, err := b.userEngine(ctx, userID)
	if err != nil {
		log.Printf("Error loading engine for callback: %v", err)
		return
	}

	// Answer callback to remove spinner
	b.api.Request(tgbotapi.NewCallback(query.ID, ""))

	switch query.Data {
	case "confirm":
		eng.Confirm(ctx)
	case "cancel":
		eng.Cancel()
	default:
		return
	}

	edit := tgbotapi.NewEditMessageText(query.Message.Chat.ID, query.Message.MessageID, formatItems(eng.Snapshot()))
	edit.ParseMode = "Markdown"
	b.api.Send(edit)
}

func (b *Bot) handleItemsRequest(msg *tgbotapi.Message) {
	ctx := context.Background()
	userID := fmt.Sprintf("%d", msg.From.ID)

	eng, summary, err := b.userEngine(ctx, userID)
	if err != nil {
		b.sendError(msg.Chat.ID, "Error loading your list", err)
		return
	}

	text := fmt.Sprintf("📋 *%s*\n\n%s", summary.Name, formatItems(eng.Snapshot()))
	reply := tgbotapi.NewMessage(msg.Chat.ID, text)
	reply.ParseMode = "Markdown"
	b.api.Send(reply)
}

func (b *Bot) handleSortRequest(msg *tgbotapi.Message, text string) {
	parts := strings.Fields(text)
	sortType := list.SortPriority
	if len(parts) > 1 {
		switch parts[1] {
		case "none":
			sortType = list.SortNone
		case "priority":
			sortType = list.SortPriority
		case "location":
			sortType = list.SortLocation
		case "context":
			sortType = list.SortContext
		default:
			b.api.Send(tgbotapi.NewMessage(msg.Chat.ID, "Usage: /sort none|priority|location|context"))
			return
		}
	}

	sentMsg, ok := b.sendStatus(msg.Chat.ID, "🔀 *Sorting...*")
	if !ok {
		return
	}

	ctx := context.Background()
	userID := fmt.Sprintf("%d", msg.From.ID)

	eng, _, err := b.userEngine(ctx, userID)
	if err != nil {
		b.editError(msg.Chat.ID, sentMsg.MessageID, "Error loading your list", err)
		return
	}
	if err := eng.ApplySort(ctx, sortType); err != nil {
		b.editError(msg.Chat.ID, sentMsg.MessageID, "Error sorting list", err)
		return
	}

	edit := tgbotapi.NewEditMessageText(msg.Chat.ID, sentMsg.MessageID, formatSorted(eng.Snapshot()))
	edit.ParseMode = "Markdown"
	b.api.Send(edit)
}

func (b *Bot) handleInviteRequest(msg *tgbotapi.Message) {
	ctx := context.Background()
	userID := fmt.Sprintf("%d", msg.From.ID)

	summary, err := b.roster.GetOrCreateDefaultList(ctx, userID)
	if err != nil {
		b.sendError(msg.Chat.ID, "Error loading your list", err)
		return
	}

	token, err := b.roster.CreateInvite(userID, summary.ID, list.RoleEditor)
	if err != nil {
		b.sendError(msg.Chat.ID, "Error creating invite", err)
		return
	}

	reply := tgbotapi.NewMessage(msg.Chat.ID,
		fmt.Sprintf("🔗 *Invite link token* (valid 7 days):\n`%s`", token))
	reply.ParseMode = "Markdown"
	b.api.Send(reply)
}

func (b *Bot) handleCodeRequest(msg *tgbotapi.Message) {
	ctx := context.Background()
	userID := fmt.Sprintf("%d", msg.From.ID)

	summary, err := b.roster.GetOrCreateDefaultList(ctx, userID)
	if err != nil {
		b.sendError(msg.Chat.ID, "Error loading your list", err)
		return
	}

	reply := tgbotapi.NewMessage(msg.Chat.ID,
		fmt.Sprintf("🔑 Access code for *%s*: `%s`\nOthers join with /join %s", summary.Name, summary.AccessCode, summary.AccessCode))
	reply.ParseMode = "Markdown"
	b.api.Send(reply)
}

func (b *Bot) handleJoinRequest(msg *tgbotapi.Message, text string) {
	parts := strings.Fields(text)
	if len(parts) != 2 {
		b.api.Send(tgbotapi.NewMessage(msg.Chat.ID, "Usage: /join CODE"))
		return
	}

	ctx := context.Background()
	userID := fmt.Sprintf("%d", msg.From.ID)

	summary, err := b.roster.JoinByAccessCode(ctx, userID, strings.ToUpper(parts[1]))
	if err != nil {
		b.sendError(msg.Chat.ID, "Could not join list", err)
		return
	}

	reply := tgbotapi.NewMessage(msg.Chat.ID, fmt.Sprintf("✅ Joined *%s* as %s.", summary.Name, summary.Role))
	reply.ParseMode = "Markdown"
	b.api.Send(reply)
}

func (b *Bot) handleAcceptRequest(msg *tgbotapi.Message, text string) {
	parts := strings.Fields(text)
	if len(parts) != 2 {
		b.api.Send(tgbotapi.NewMessage(msg.Chat.ID, "Usage: /accept TOKEN"))
		return
	}

	ctx := context.Background()
	userID := fmt.Sprintf("%d", msg.From.ID)

	summary, err := b.roster.AcceptInvite(ctx, userID, parts[1])
	if err != nil {
		b.sendError(msg.Chat.ID, "Could not accept invite", err)
		return
	}

	reply := tgbotapi.NewMessage(msg.Chat.ID, fmt.Sprintf("✅ Joined *%s* as %s.", summary.Name, summary.Role))
	reply.ParseMode = "Markdown"
	b.api.Send(reply)
}

func (b *Bot) handleClipperRequest(msg *tgbotapi.Message) {
	sentMsg, ok := b.sendStatus(msg.Chat.ID, "✂️ *Clipping ingredients...* \n(Extracting items from the page)")
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Minute)
	defer cancel()
	userID := fmt.Sprintf("%d", msg.From.ID)

	eng, _, err := b.userEngine(ctx, userID)
	if err != nil {
		b.editError(msg.Chat.ID, sentMsg.MessageID, "Error loading your list", err)
		return
	}

	title, drafts, meta, err := b.clipper.ClipURL(ctx, msg.Text)
	if b.metricsStore != nil {
		_ = b.metricsStore.RecordMeta(meta)
	}
	if err != nil {
		b.editError(msg.Chat.ID, sentMsg.MessageID, "Error clipping page", err)
		return
	}

	added := 0
	for _, draft := range drafts {
		if err := eng.SyncAddItem(ctx, draft); err != nil {
			log.Printf("Failed to add clipped item %q: %v", draft.Name, err)
			continue
		}
		added++
	}

	finalText := fmt.Sprintf("✅ *%s*\nAdded %d items to your list.", title, added)
	edit := tgbotapi.NewEditMessageText(msg.Chat.ID, sentMsg.MessageID, finalText)
	edit.ParseMode = "Markdown"
	b.api.Send(edit)
}

func (b *Bot) handleMetricsRequest(msg *tgbotapi.Message) {
	if msg.From.ID != b.cfg.AdminTelegramID {
		b.api.Send(tgbotapi.NewMessage(msg.Chat.ID, "⛔ *Access Denied*: Admin only."))
		return
	}

	if b.metricsStore == nil {
		b.api.Send(tgbotapi.NewMessage(msg.Chat.ID, "❌ Metrics are not enabled."))
		return
	}

	usage, err := b.metricsStore.GetDailyUsage(7)
	if err != nil {
		b.api.Send(tgbotapi.NewMessage(msg.Chat.ID, "❌ Error fetching metrics."))
		return
	}

	health := metrics.GetSysHealth("data")

	var sb strings.Builder
	sb.WriteString("📊 *Usage & Health Report*\n\n")

	sb.WriteString("🗓 *Recent Oracle Activity*\n")
	if len(usage) == 0 {
		sb.WriteString("_No data yet_\n")
	}
	for _, d := range usage {
		sb.WriteString(fmt.Sprintf("• *%s*: %d tokens (%d calls)\n", d.Date, d.TotalPrompt+d.TotalCompletion, d.TotalExecution))
	}

	sb.WriteString("\n🧠 *System Health*\n")
	sb.WriteString(fmt.Sprintf("• RAM: %dMB (Alloc) / %dMB (Sys)\n", health.AllocMB, health.SysMB))
	sb.WriteString(fmt.Sprintf("• Goroutines: %d\n", health.Goroutines))
	sb.WriteString(fmt.Sprintf("• Disk Data: %s\n", health.DataSize))

	reply := tgbotapi.NewMessage(msg.Chat.ID, sb.String())
	reply.ParseMode = "Markdown"
	b.api.Send(reply)
}

func (b *Bot) sendStatus(chatID int64, text string) (tgbotapi.Message, bool) {
	reply := tgbotapi.NewMessage(chatID, text)
	reply.ParseMode = "Markdown"
	sentMsg, err := b.api.Send(reply)
	if err != nil {
		log.Printf("Failed to send initial reply: %v", err)
		return tgbotapi.Message{}, false
	}
	return sentMsg, true
}

func (b *Bot) sendError(chatID int64, context string, err error) {
	log.Printf("%s: %v", context, err)
	safeErr := strings.ReplaceAll(err.Error(), "`", "'")
	reply := tgbotapi.NewMessage(chatID, fmt.Sprintf("❌ *%s:*\n```\n%v\n```", context, safeErr))
	reply.ParseMode = "Markdown"
	b.api.Send(reply)
}

func (b *Bot) editError(chatID int64, messageID int, context string, err error) {
	log.Printf("%s: %v", context, err)
	safeErr := strings.ReplaceAll(err.Error(), "`", "'")
	edit := tgbotapi.NewEditMessageText(chatID, messageID, fmt.Sprintf("❌ *%s:*\n```\n%v\n```", context, safeErr))
	edit.ParseMode = "Markdown"
	b.api.Send(edit)
}

func formatItems(state list.State) string {
	if len(state.Items) == 0 {
		return "🛒 Your list is empty."
	}

	var sb strings.Builder
	sb.WriteString("🛒 *Shopping List*\n\n")
	for _, item := range state.Items {
		line := fmt.Sprintf("%d %s %s", item.Quantity, item.Unit, item.Name)
		switch item.Status {
		case list.StatusPurchased:
			sb.WriteString(fmt.Sprintf("• ~%s~\n", line))
		default:
			if item.Priority != list.PriorityNone {
				line += fmt.Sprintf(" (%s)", item.Priority)
			}
			sb.WriteString(fmt.Sprintf("• %s\n", line))
		}
	}
	return sb.String()
}

// formatSorted renders the grouped view when the oracle produced groups, and
// the flat view otherwise. The items slice is already in group order, so the
// walk just inserts a header whenever the group label changes.
func formatSorted(state list.State) string {
	if len(state.SortGroups) == 0 {
		return formatItems(state)
	}

	groupOf := make(map[string]string)
	for group, names := range state.SortGroups {
		for _, name := range names {
			groupOf[strings.ToLower(name)] = group
		}
	}

	var sb strings.Builder
	sb.WriteString("🛒 *Shopping List*\n\n")
	current := ""
	for _, item := range state.Items {
		group, ok := groupOf[strings.ToLower(item.Name)]
		if !ok || item.Status == list.StatusPurchased {
			group = "Other"
		}
		if group != current {
			if current != "" {
				sb.WriteString("\n")
			}
			sb.WriteString(fmt.Sprintf("*%s*\n", group))
			current = group
		}
		line := fmt.Sprintf("%d %s %s", item.Quantity, item.Unit, item.Name)
		if item.Status == list.StatusPurchased {
			line = "~" + line + "~"
		}
		sb.WriteString(fmt.Sprintf("• %s\n", line))
	}
	return sb.String()
}
