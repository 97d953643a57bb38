// Package telegram adapts the Telegram Bot API to the rest of the system:
// the bot service ingests media posted to indexed channels and private
// chats, answers free-text search queries with paged inline keyboards, and
// delivers files (subject to a per-session limit). The chunk source in this
// package is the streaming proxy's upstream reader.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/Johnmclane5/TgSearchBot/internal/catalog"
	"github.com/Johnmclane5/TgSearchBot/internal/ingest"
	"github.com/Johnmclane5/TgSearchBot/internal/link"
	"github.com/Johnmclane5/TgSearchBot/internal/search"
	"github.com/Johnmclane5/TgSearchBot/internal/session"
	"github.com/Johnmclane5/TgSearchBot/pkg/logger"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
)

var log = logger.Get("TgBot")

type (
	Config struct {
		BotToken             string `yaml:"token" env:"TELEGRAM_BOT_TOKEN" env-required:"true"`
		LogChannelID         int64  `yaml:"logChannelID" env:"TELEGRAM_LOG_CHANNEL_ID" env-required:"true"`
		OwnerID              int64  `yaml:"ownerID" env:"TELEGRAM_OWNER_ID"`
		UpdateTimeoutSeconds int    `yaml:"updateTimeoutSeconds" env:"TELEGRAM_UPDATE_TIMEOUT_SECONDS" env-default:"30"`
		SearchPageSize       int    `yaml:"searchPageSize" env:"SEARCH_PAGE_SIZE" env-default:"10"`
		MaxFilesPerSession   int    `yaml:"maxFilesPerSession" env:"MAX_FILES_PER_SESSION" env-default:"10"`
	}

	// botClient is the slice of the Bot API client the service uses;
	// narrowed so tests can substitute a fake.
	botClient interface {
		Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
		Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
		CopyMessage(config tgbotapi.CopyMessageConfig) (tgbotapi.MessageID, error)
		GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
		StopReceivingUpdates()
	}

	DataStore interface {
		GetFile(channelID int64, messageID int64) (*catalog.File, error)
		SearchFiles(channelID int64, sanitizedQuery string, offset int, limit int) (*catalog.SearchPage, error)
		GetChannel(channelID int64) (*catalog.Channel, error)
		GetAllChannels() ([]*catalog.Channel, error)
		SaveChannel(*catalog.Channel) error
		GetCatalogStats() (map[int64]int, int64, error)
	}

	Queue interface {
		Enqueue(message ingest.Message, opts ...ingest.TaskOption) uuid.UUID
	}

	botService struct {
		bot            botClient
		config         Config
		externalDomain string

		store       DataStore
		queue       Queue
		sessions    session.Store
		searchCache *search.Cache
		queries     *queryRegistry
	}
)

// Connect authenticates against the Bot API and returns a ready service.
func Connect(config Config, externalDomain string, store DataStore, queue Queue, sessions session.Store, cache *search.Cache) (*botService, error) {
	bot, err := tgbotapi.NewBotAPI(config.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate with bot API: %w", err)
	}

	log.Emit(logger.SUCCESS, "Authenticated as bot %s\n", bot.Self.UserName)
	return NewService(bot, config, externalDomain, store, queue, sessions, cache), nil
}

// NewService wires a service around an already-connected client.
func NewService(bot botClient, config Config, externalDomain string, store DataStore, queue Queue, sessions session.Store, cache *search.Cache) *botService {
	if config.SearchPageSize <= 0 {
		config.SearchPageSize = 10
	}

	return &botService{
		bot:            bot,
		config:         config,
		externalDomain: strings.TrimRight(externalDomain, "/"),
		store:          store,
		queue:          queue,
		sessions:       sessions,
		searchCache:    cache,
		queries:        newQueryRegistry(),
	}
}

// FileResolver exposes the underlying client's file URL resolution for the
// chunk source. Only available when the service was built via Connect.
func (service *botService) FileResolver() fileResolver {
	if resolver, ok := service.bot.(fileResolver); ok {
		return resolver
	}

	return nil
}

// Run consumes updates until the provided context is cancelled.
func (service *botService) Run(ctx context.Context) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = service.config.UpdateTimeoutSeconds
	updates := service.bot.GetUpdatesChan(updateConfig)

	for {
		select {
		case <-ctx.Done():
			service.bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}

			service.handleUpdate(update)
		}
	}
}

func (service *botService) handleUpdate(update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		service.handleCallback(update.CallbackQuery)
	case update.ChannelPost != nil:
		service.handleChannelPost(update.ChannelPost)
	case update.Message != nil && update.Message.IsCommand():
		service.handleCommand(update.Message)
	case update.Message != nil && hasMedia(update.Message):
		service.handlePrivateFile(update.Message)
	case update.Message != nil && strings.TrimSpace(update.Message.Text) != "":
		service.handleSearchQuery(update.Message)
	}
}

// handleChannelPost indexes media posted to a channel. Channels are
// registered on first sight so they show up as search scopes; duplicate
// checking is on because channels are the long-lived catalog.
func (service *botService) handleChannelPost(post *tgbotapi.Message) {
	if !hasMedia(post) {
		return
	}

	if _, err := service.store.GetChannel(post.Chat.ID); err != nil {
		channel := &catalog.Channel{ChannelID: post.Chat.ID, ChannelName: post.Chat.Title}
		if err := service.store.SaveChannel(channel); err != nil {
			log.Emit(logger.ERROR, "Failed to register channel %d: %s\n", post.Chat.ID, err.Error())
			return
		}

		log.Emit(logger.NEW, "Registered channel %q (%d) as search scope\n", post.Chat.Title, post.Chat.ID)
	}

	service.queue.Enqueue(extractIngestMessage(post), ingest.WithDuplicateCheck())
}

// handlePrivateFile forwards a user's file into the log channel (so it has
// a stable, bot-readable home) and enqueues ingestion of the forwarded
// copy. Once catalogued, the acknowledgement is edited into link buttons.
func (service *botService) handlePrivateFile(message *tgbotapi.Message) {
	ack := tgbotapi.NewMessage(message.Chat.ID, "Processing your file, please wait...")
	ack.ReplyToMessageID = message.MessageID
	ackMessage, err := service.bot.Send(ack)
	if err != nil {
		log.Emit(logger.ERROR, "Failed to acknowledge file from user %d: %s\n", message.Chat.ID, err.Error())
		return
	}

	forwarded, err := service.bot.Send(tgbotapi.NewForward(service.config.LogChannelID, message.Chat.ID, message.MessageID))
	if err != nil {
		log.Emit(logger.ERROR, "Failed to forward file to log channel: %s\n", err.Error())
		service.editText(message.Chat.ID, ackMessage.MessageID, "❌ Failed to process your file. Please try again later.")
		return
	}

	// The forwarded copy carries the same attachments; its identity in the
	// log channel is what the catalog and stream links refer to.
	ingestMessage := extractIngestMessage(message)
	ingestMessage.ChannelID = service.config.LogChannelID
	ingestMessage.MessageID = int64(forwarded.MessageID)

	chatID := message.Chat.ID
	ackID := ackMessage.MessageID
	service.queue.Enqueue(ingestMessage, ingest.WithCompletionHandler(func(task *ingest.IngestTask) {
		service.deliverLinks(chatID, ackID, task)
	}))
}

// deliverLinks edits the processing acknowledgement with the outcome of the
// user's file ingestion.
func (service *botService) deliverLinks(chatID int64, ackMessageID int, task *ingest.IngestTask) {
	if task.State != ingest.COMPLETE || (task.Outcome != ingest.OutcomeInserted && task.Outcome != ingest.OutcomeDuplicateLogged) {
		service.editText(chatID, ackMessageID, "❌ Failed to process your file. Please try again later.")
		return
	}

	token := link.Encode(task.Scope(), task.Message.MessageID)
	edit := tgbotapi.NewEditMessageTextAndMarkup(
		chatID, ackMessageID,
		"🎥 Your links are ready!",
		service.linkButtons(token),
	)
	if _, err := service.bot.Send(edit); err != nil {
		log.Emit(logger.WARNING, "Failed to deliver links to chat %d: %s\n", chatID, err.Error())
	}
}

func (service *botService) handleCommand(message *tgbotapi.Message) {
	switch message.Command() {
	case "start":
		name := "there"
		if message.From != nil && message.From.FirstName != "" {
			name = message.From.FirstName
		}

		greeting := fmt.Sprintf(
			"Hey %s 👋\n\nSend me any file to get direct download and streaming links, or send a search term to find catalogued media.",
			name,
		)
		service.reply(message, greeting)
	case "stats":
		if message.From == nil || message.From.ID != service.config.OwnerID {
			return
		}

		service.replyWithStats(message)
	}
}

func (service *botService) replyWithStats(message *tgbotapi.Message) {
	counts, totalBytes, err := service.store.GetCatalogStats()
	if err != nil {
		log.Emit(logger.ERROR, "Failed to gather catalog stats: %s\n", err.Error())
		return
	}

	var text strings.Builder
	fmt.Fprintf(&text, "Files size: %s\n", humanReadableSize(totalBytes))
	if len(counts) == 0 {
		text.WriteString("No files indexed yet.")
	} else {
		channels, _ := service.store.GetAllChannels()
		names := make(map[int64]string, len(channels))
		for _, channel := range channels {
			names[channel.ChannelID] = channel.ChannelName
		}

		for channelID, count := range counts {
			name := names[channelID]
			if name == "" {
				name = strconv.FormatInt(channelID, 10)
			}
			fmt.Fprintf(&text, "%s: %d files\n", name, count)
		}
	}

	service.reply(message, text.String())
}

// handleSearchQuery answers a free-text query with a channel picker; the
// actual search happens when the user selects a scope.
func (service *botService) handleSearchQuery(message *tgbotapi.Message) {
	query := search.Sanitize(message.Text)
	if query == "" {
		return
	}

	channels, err := service.store.GetAllChannels()
	if err != nil || len(channels) == 0 {
		service.reply(message, "🚫 Nothing is indexed yet. Try again later.")
		return
	}

	queryID := service.queries.register(query)
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(channels))
	for _, channel := range channels {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(
				channel.ChannelName,
				fmt.Sprintf("search:%s:%d:1:0", queryID, channel.ChannelID),
			),
		))
	}

	pick := tgbotapi.NewMessage(message.Chat.ID, fmt.Sprintf("🔍 %s\n\nSelect where to search:", query))
	pick.ReplyToMessageID = message.MessageID
	pick.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	if _, err := service.bot.Send(pick); err != nil {
		log.Emit(logger.WARNING, "Failed to send channel picker: %s\n", err.Error())
	}
}

func (service *botService) handleCallback(callback *tgbotapi.CallbackQuery) {
	data := callback.Data
	switch {
	case strings.HasPrefix(data, "search:"):
		service.handleSearchCallback(callback)
	case strings.HasPrefix(data, "getfile:"):
		service.handleGetFileCallback(callback)
	case strings.HasPrefix(data, "viewfile:"):
		service.handleViewFileCallback(callback)
	default:
		service.answerCallback(callback.ID, "", false)
	}
}

// handleSearchCallback renders one page of search results for the selected
// channel. Results come from the TTL cache when the same (query, scope,
// page) was asked recently.
func (service *botService) handleSearchCallback(callback *tgbotapi.CallbackQuery) {
	// Callbacks on messages older than 48h arrive without the originating
	// message, so there is nothing left to edit.
	if callback.Message == nil {
		service.answerCallback(callback.ID, "This result is too old. Please send a new search.", true)
		return
	}

	defer service.answerCallback(callback.ID, "", false)

	parts := strings.Split(strings.TrimPrefix(callback.Data, "search:"), ":")
	if len(parts) != 4 {
		return
	}

	queryID := parts[0]
	channelID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return
	}
	page, err := strconv.Atoi(parts[2])
	if err != nil || page < 1 {
		return
	}
	mode, err := strconv.Atoi(parts[3])
	if err != nil {
		return
	}

	query, ok := service.queries.lookup(queryID)
	if !ok {
		service.answerCallback(callback.ID, "Your query has expired. Please send a new one.", true)
		return
	}

	results, err := service.fetchResultsPage(channelID, query, page)
	if err != nil {
		log.Emit(logger.ERROR, "Search for %q in channel %d failed: %s\n", query, channelID, err.Error())
		return
	}

	channelName := strconv.FormatInt(channelID, 10)
	if channel, err := service.store.GetChannel(channelID); err == nil {
		channelName = channel.ChannelName
	}

	chatID := callback.Message.Chat.ID
	messageID := callback.Message.MessageID
	if len(results.Files) == 0 {
		googleURL := "https://www.google.com/search?q=" + strings.ReplaceAll(query, " ", "+")
		service.editText(chatID, messageID, fmt.Sprintf("🚫 Not Available in %s\n\nSpelling check 👉 %s", channelName, googleURL))
		return
	}

	totalPages := (results.Total + service.config.SearchPageSize - 1) / service.config.SearchPageSize
	text := fmt.Sprintf("📂 Found: %d file(s)\n🛒 Category: %s", results.Total, channelName)

	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(results.Files)+1)
	for _, file := range results.Files {
		label := fmt.Sprintf("%s┃%s", humanReadableSize(file.FileSize), file.FileName)
		var button tgbotapi.InlineKeyboardButton
		if mode == 0 {
			button = tgbotapi.NewInlineKeyboardButtonData(label, "getfile:"+link.Encode(file.ChannelID, file.MessageID))
		} else {
			button = tgbotapi.NewInlineKeyboardButtonData(label, fmt.Sprintf("viewfile:%d:%d", file.ChannelID, file.MessageID))
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(button))
	}

	navigation := make([]tgbotapi.InlineKeyboardButton, 0, 4)
	if page > 1 {
		navigation = append(navigation, tgbotapi.NewInlineKeyboardButtonData("⬅️", fmt.Sprintf("search:%s:%d:%d:%d", queryID, channelID, page-1, mode)))
	}
	navigation = append(navigation, tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("📃 %d/%d", page, totalPages), "noop"))
	if page < totalPages {
		navigation = append(navigation, tgbotapi.NewInlineKeyboardButtonData("➡️", fmt.Sprintf("search:%s:%d:%d:%d", queryID, channelID, page+1, mode)))
	}

	toggleIcon := "👁️"
	if mode != 0 {
		toggleIcon = "📲"
	}
	navigation = append(navigation, tgbotapi.NewInlineKeyboardButtonData(toggleIcon, fmt.Sprintf("search:%s:%d:%d:%d", queryID, channelID, page, 1-mode)))
	rows = append(rows, navigation)

	edit := tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, text, tgbotapi.NewInlineKeyboardMarkup(rows...))
	if _, err := service.bot.Send(edit); err != nil {
		log.Emit(logger.WARNING, "Failed to render search results: %s\n", err.Error())
	}
}

func (service *botService) fetchResultsPage(channelID int64, query string, page int) (*catalog.SearchPage, error) {
	key := search.Key{Query: query, ChannelID: channelID, Page: page}
	if cached, ok := service.searchCache.Get(key); ok {
		return cached, nil
	}

	results, err := service.store.SearchFiles(channelID, query, (page-1)*service.config.SearchPageSize, service.config.SearchPageSize)
	if err != nil {
		return nil, err
	}

	service.searchCache.Put(key, results)
	return results, nil
}

// handleGetFileCallback copies the requested object to the user, with
// download and player link buttons, honouring the per-session file limit.
func (service *botService) handleGetFileCallback(callback *tgbotapi.CallbackQuery) {
	token := strings.TrimPrefix(callback.Data, "getfile:")
	userID := callback.From.ID

	channelID, messageID, err := link.Decode(token)
	if err != nil {
		service.answerCallback(callback.ID, "File not found.", true)
		return
	}

	if service.sessions.Count(userID) >= service.config.MaxFilesPerSession {
		service.answerCallback(callback.ID, "Limit reached. Please take a break.", true)
		return
	}

	file, err := service.store.GetFile(channelID, messageID)
	if err != nil {
		service.answerCallback(callback.ID, "File not found.", true)
		return
	}

	copyConfig := tgbotapi.NewCopyMessage(userID, file.ChannelID, int(file.MessageID))
	copyConfig.Caption = fmt.Sprintf("🎥 %s", file.FileName)
	markup := service.linkButtons(token)
	copyConfig.ReplyMarkup = &markup
	copyConfig.ProtectContent = true

	if _, err := service.bot.CopyMessage(copyConfig); err != nil {
		log.Emit(logger.WARNING, "Failed to copy file %d/%d to user %d: %s\n", channelID, messageID, userID, err.Error())
		service.answerCallback(callback.ID, "Failed to send file. Please try again later.", true)
		return
	}

	service.sessions.Increment(userID)
	service.answerCallback(callback.ID, "File sent successfully!", true)
}

func (service *botService) handleViewFileCallback(callback *tgbotapi.CallbackQuery) {
	parts := strings.Split(strings.TrimPrefix(callback.Data, "viewfile:"), ":")
	if len(parts) != 2 {
		return
	}

	channelID, err1 := strconv.ParseInt(parts[0], 10, 64)
	messageID, err2 := strconv.ParseInt(parts[1], 10, 64)
	if err1 != nil || err2 != nil {
		return
	}

	file, err := service.store.GetFile(channelID, messageID)
	if err != nil {
		service.answerCallback(callback.ID, "❌ File not found!", true)
		return
	}

	service.answerCallback(callback.ID, file.FileName, true)
}

func (service *botService) linkButtons(token string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL("📥 Download", fmt.Sprintf("%s/download/%s", service.externalDomain, token)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL("▶️ Play in MX Player", fmt.Sprintf("%s/play/mx/%s", service.externalDomain, token)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL("▶️ Play in MX Player Pro", fmt.Sprintf("%s/play/mxpro/%s", service.externalDomain, token)),
		),
	)
}

func (service *botService) reply(message *tgbotapi.Message, text string) {
	reply := tgbotapi.NewMessage(message.Chat.ID, text)
	reply.ReplyToMessageID = message.MessageID
	if _, err := service.bot.Send(reply); err != nil {
		log.Emit(logger.WARNING, "Failed to send reply: %s\n", err.Error())
	}
}

func (service *botService) editText(chatID int64, messageID int, text string) {
	if _, err := service.bot.Send(tgbotapi.NewEditMessageText(chatID, messageID, text)); err != nil {
		log.Emit(logger.WARNING, "Failed to edit message %d: %s\n", messageID, err.Error())
	}
}

func (service *botService) answerCallback(callbackID string, text string, alert bool) {
	answer := tgbotapi.NewCallback(callbackID, text)
	answer.ShowAlert = alert
	if _, err := service.bot.Request(answer); err != nil {
		log.Emit(logger.VERBOSE, "Failed to answer callback: %s\n", err.Error())
	}
}

// extractIngestMessage maps a Bot API message onto the ingestion view of
// it. For photos the largest size variant wins.
func extractIngestMessage(message *tgbotapi.Message) ingest.Message {
	result := ingest.Message{
		ChannelID: message.Chat.ID,
		MessageID: int64(message.MessageID),
	}

	if message.Document != nil {
		result.Document = &ingest.MediaRef{
			FileName: message.Document.FileName,
			FileSize: int64(message.Document.FileSize),
			MimeType: message.Document.MimeType,
			FileRef:  message.Document.FileID,
		}
	}
	if message.Video != nil {
		result.Video = &ingest.MediaRef{
			FileName: message.Video.FileName,
			FileSize: int64(message.Video.FileSize),
			MimeType: message.Video.MimeType,
			FileRef:  message.Video.FileID,
		}
	}
	if message.Audio != nil {
		result.Audio = &ingest.MediaRef{
			FileName: message.Audio.FileName,
			FileSize: int64(message.Audio.FileSize),
			MimeType: message.Audio.MimeType,
			FileRef:  message.Audio.FileID,
		}
	}
	if len(message.Photo) > 0 {
		photo := pickLargestPhoto(message.Photo)
		result.Image = &ingest.MediaRef{
			FileSize: int64(photo.FileSize),
			MimeType: "image/jpeg",
			FileRef:  photo.FileID,
		}
	}

	return result
}

func pickLargestPhoto(sizes []tgbotapi.PhotoSize) tgbotapi.PhotoSize {
	best := sizes[0]
	for _, candidate := range sizes[1:] {
		if candidate.FileSize > best.FileSize {
			best = candidate
			continue
		}
		if candidate.Width*candidate.Height > best.Width*best.Height {
			best = candidate
		}
	}

	return best
}

func hasMedia(message *tgbotapi.Message) bool {
	return message.Document != nil || message.Video != nil || message.Audio != nil || len(message.Photo) > 0
}

func humanReadableSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}

	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.2f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
