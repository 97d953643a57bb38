package telegram

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/Johnmclane5/TgSearchBot/internal/catalog"
	"github.com/Johnmclane5/TgSearchBot/internal/ingest"
	"github.com/Johnmclane5/TgSearchBot/internal/link"
	"github.com/Johnmclane5/TgSearchBot/internal/search"
	"github.com/Johnmclane5/TgSearchBot/internal/session"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBot struct {
	mu            sync.Mutex
	sent          []tgbotapi.Chattable
	requests      []tgbotapi.Chattable
	copies        []tgbotapi.CopyMessageConfig
	nextMessageID int
}

func (bot *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	bot.mu.Lock()
	defer bot.mu.Unlock()

	bot.sent = append(bot.sent, c)
	bot.nextMessageID++
	return tgbotapi.Message{MessageID: bot.nextMessageID}, nil
}

func (bot *fakeBot) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	bot.mu.Lock()
	defer bot.mu.Unlock()

	bot.requests = append(bot.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (bot *fakeBot) CopyMessage(config tgbotapi.CopyMessageConfig) (tgbotapi.MessageID, error) {
	bot.mu.Lock()
	defer bot.mu.Unlock()

	bot.copies = append(bot.copies, config)
	return tgbotapi.MessageID{MessageID: 1}, nil
}

func (bot *fakeBot) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return make(chan tgbotapi.Update)
}

func (bot *fakeBot) StopReceivingUpdates() {}

func (bot *fakeBot) lastSent(t *testing.T) tgbotapi.Chattable {
	bot.mu.Lock()
	defer bot.mu.Unlock()

	require.NotEmpty(t, bot.sent)
	return bot.sent[len(bot.sent)-1]
}

type enqueued struct {
	message ingest.Message
	task    *ingest.IngestTask
}

type fakeQueue struct {
	mu    sync.Mutex
	tasks []enqueued
}

func (queue *fakeQueue) Enqueue(message ingest.Message, opts ...ingest.TaskOption) uuid.UUID {
	queue.mu.Lock()
	defer queue.mu.Unlock()

	task := &ingest.IngestTask{ID: uuid.New(), Message: message}
	for _, opt := range opts {
		opt(task)
	}

	queue.tasks = append(queue.tasks, enqueued{message: message, task: task})
	return task.ID
}

type fakeStore struct {
	mu            sync.Mutex
	files         map[string]*catalog.File
	channels      map[int64]*catalog.Channel
	searchPages   []*catalog.SearchPage
	searchCalls   int
	savedChannels []*catalog.Channel
}

func newFakeStore() *fakeStore {
	return &fakeStore{files: make(map[string]*catalog.File), channels: make(map[int64]*catalog.Channel)}
}

func (store *fakeStore) GetFile(channelID int64, messageID int64) (*catalog.File, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	if file, ok := store.files[fmt.Sprintf("%d/%d", channelID, messageID)]; ok {
		return file, nil
	}
	return nil, catalog.ErrFileNotFound
}

func (store *fakeStore) SearchFiles(int64, string, int, int) (*catalog.SearchPage, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	store.searchCalls++
	if len(store.searchPages) == 0 {
		return &catalog.SearchPage{Files: []*catalog.File{}}, nil
	}
	page := store.searchPages[0]
	if len(store.searchPages) > 1 {
		store.searchPages = store.searchPages[1:]
	}
	return page, nil
}

func (store *fakeStore) GetChannel(channelID int64) (*catalog.Channel, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	if channel, ok := store.channels[channelID]; ok {
		return channel, nil
	}
	return nil, catalog.ErrChannelNotFound
}

func (store *fakeStore) GetAllChannels() ([]*catalog.Channel, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	channels := make([]*catalog.Channel, 0, len(store.channels))
	for _, channel := range store.channels {
		channels = append(channels, channel)
	}
	return channels, nil
}

func (store *fakeStore) SaveChannel(channel *catalog.Channel) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	store.channels[channel.ChannelID] = channel
	store.savedChannels = append(store.savedChannels, channel)
	return nil
}

func (store *fakeStore) GetCatalogStats() (map[int64]int, int64, error) {
	return map[int64]int{}, 0, nil
}

func newTestService(bot *fakeBot, store *fakeStore, queue *fakeQueue, maxFiles int) *botService {
	return NewService(
		bot,
		Config{LogChannelID: -1009999, OwnerID: 7, SearchPageSize: 2, MaxFilesPerSession: maxFiles, UpdateTimeoutSeconds: 30},
		"https://media.example.com/",
		store,
		queue,
		session.NewStore(maxFiles),
		search.NewCache(search.DefaultMaxEntries, search.DefaultTTL),
	)
}

func channelPost(channelID int64, messageID int, fileName string) *tgbotapi.Message {
	return &tgbotapi.Message{
		MessageID: messageID,
		Chat:      &tgbotapi.Chat{ID: channelID, Title: "Test Channel"},
		Document:  &tgbotapi.Document{FileID: "doc-ref", FileName: fileName, FileSize: 2048, MimeType: "video/x-matroska"},
	}
}

func Test_ChannelPost_EnqueuedWithDuplicateCheck(t *testing.T) {
	t.Parallel()
	bot := &fakeBot{}
	store := newFakeStore()
	queue := &fakeQueue{}
	service := newTestService(bot, store, queue, 10)

	service.handleUpdate(tgbotapi.Update{ChannelPost: channelPost(-100123, 55, "Alpha.2020.mkv")})

	require.Len(t, queue.tasks, 1)
	task := queue.tasks[0].task
	assert.True(t, task.CheckDuplicate)
	assert.Equal(t, int64(-100123), task.Message.ChannelID)
	assert.Equal(t, int64(55), task.Message.MessageID)
	require.NotNil(t, task.Message.Document)
	assert.Equal(t, "doc-ref", task.Message.Document.FileRef)

	// First sighting registers the channel as a search scope.
	require.Len(t, store.savedChannels, 1)
	assert.Equal(t, "Test Channel", store.savedChannels[0].ChannelName)

	// A second post must not re-register it.
	service.handleUpdate(tgbotapi.Update{ChannelPost: channelPost(-100123, 56, "Bravo.2021.mkv")})
	assert.Len(t, store.savedChannels, 1)
	assert.Len(t, queue.tasks, 2)
}

func Test_ChannelPost_WithoutMediaIgnored(t *testing.T) {
	t.Parallel()
	bot := &fakeBot{}
	queue := &fakeQueue{}
	service := newTestService(bot, newFakeStore(), queue, 10)

	service.handleUpdate(tgbotapi.Update{ChannelPost: &tgbotapi.Message{
		MessageID: 1,
		Chat:      &tgbotapi.Chat{ID: -100123},
		Text:      "just words",
	}})

	assert.Empty(t, queue.tasks)
}

func Test_PrivateFile_ForwardedAndLinksDelivered(t *testing.T) {
	t.Parallel()
	bot := &fakeBot{}
	queue := &fakeQueue{}
	service := newTestService(bot, newFakeStore(), queue, 10)

	service.handleUpdate(tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 10,
		Chat:      &tgbotapi.Chat{ID: 4242, Type: "private"},
		From:      &tgbotapi.User{ID: 4242},
		Document:  &tgbotapi.Document{FileID: "doc-ref", FileName: "Video.2020.mkv", FileSize: 4096},
	}})

	// Acknowledgement first, then the forward into the log channel.
	require.Len(t, bot.sent, 2)
	ack, ok := bot.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, int64(4242), ack.ChatID)
	forward, ok := bot.sent[1].(tgbotapi.ForwardConfig)
	require.True(t, ok)
	assert.Equal(t, int64(-1009999), forward.ChatID)

	// Ingestion targets the forwarded copy in the log channel; the fake bot
	// assigned it MessageID 2.
	require.Len(t, queue.tasks, 1)
	task := queue.tasks[0].task
	assert.Equal(t, int64(-1009999), task.Message.ChannelID)
	assert.Equal(t, int64(2), task.Message.MessageID)
	assert.False(t, task.CheckDuplicate)
	require.NotNil(t, task.OnComplete)

	// Completion edits the acknowledgement into link buttons.
	task.State = ingest.COMPLETE
	task.Outcome = ingest.OutcomeInserted
	task.OnComplete(task)

	edit, ok := bot.lastSent(t).(tgbotapi.EditMessageTextConfig)
	require.True(t, ok)
	assert.Equal(t, 1, edit.MessageID)
	require.NotNil(t, edit.ReplyMarkup)

	token := link.Encode(-1009999, 2)
	var urls []string
	for _, row := range edit.ReplyMarkup.InlineKeyboard {
		for _, button := range row {
			require.NotNil(t, button.URL)
			urls = append(urls, *button.URL)
		}
	}
	assert.Contains(t, urls, "https://media.example.com/download/"+token)
	assert.Contains(t, urls, "https://media.example.com/play/mx/"+token)
	assert.Contains(t, urls, "https://media.example.com/play/mxpro/"+token)
}

func Test_PrivateFile_FailureEditsAcknowledgement(t *testing.T) {
	t.Parallel()
	bot := &fakeBot{}
	queue := &fakeQueue{}
	service := newTestService(bot, newFakeStore(), queue, 10)

	service.handleUpdate(tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 10,
		Chat:      &tgbotapi.Chat{ID: 4242, Type: "private"},
		Document:  &tgbotapi.Document{FileID: "doc-ref", FileName: "Video.2020.mkv"},
	}})

	require.Len(t, queue.tasks, 1)
	task := queue.tasks[0].task
	task.State = ingest.FAILED
	task.OnComplete(task)

	edit, ok := bot.lastSent(t).(tgbotapi.EditMessageTextConfig)
	require.True(t, ok)
	assert.Contains(t, edit.Text, "Failed to process")
}

func Test_GetFileCallback_CopiesFileAndCountsSession(t *testing.T) {
	t.Parallel()
	bot := &fakeBot{}
	store := newFakeStore()
	store.files["-100123/55"] = &catalog.File{
		ChannelID: -100123, MessageID: 55, FileName: "alpha movie 2020", FileSize: 2048,
	}
	service := newTestService(bot, store, &fakeQueue{}, 1)

	token := link.Encode(-100123, 55)
	callback := func() *tgbotapi.CallbackQuery {
		return &tgbotapi.CallbackQuery{
			ID:   "cb-1",
			From: &tgbotapi.User{ID: 4242},
			Data: "getfile:" + token,
		}
	}

	service.handleUpdate(tgbotapi.Update{CallbackQuery: callback()})

	require.Len(t, bot.copies, 1)
	copied := bot.copies[0]
	assert.Equal(t, int64(4242), copied.ChatID)
	assert.Equal(t, int64(-100123), copied.FromChatID)
	assert.Equal(t, 55, copied.MessageID)
	assert.Contains(t, copied.Caption, "alpha movie 2020")
	assert.True(t, copied.ProtectContent)

	// The session cap is 1, so the next request is refused with an alert.
	service.handleUpdate(tgbotapi.Update{CallbackQuery: callback()})
	assert.Len(t, bot.copies, 1)

	last, ok := bot.requests[len(bot.requests)-1].(tgbotapi.CallbackConfig)
	require.True(t, ok)
	assert.Contains(t, last.Text, "Limit reached")
	assert.True(t, last.ShowAlert)
}

func Test_GetFileCallback_MalformedToken(t *testing.T) {
	t.Parallel()
	bot := &fakeBot{}
	service := newTestService(bot, newFakeStore(), &fakeQueue{}, 10)

	service.handleUpdate(tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:   "cb-1",
		From: &tgbotapi.User{ID: 4242},
		Data: "getfile:!!!not-base64!!!",
	}})

	assert.Empty(t, bot.copies)
	last, ok := bot.requests[len(bot.requests)-1].(tgbotapi.CallbackConfig)
	require.True(t, ok)
	assert.Contains(t, last.Text, "File not found")
}

func Test_SearchFlow_PickerThenCachedResults(t *testing.T) {
	t.Parallel()
	bot := &fakeBot{}
	store := newFakeStore()
	store.channels[-100123] = &catalog.Channel{ChannelID: -100123, ChannelName: "Movies"}
	store.searchPages = []*catalog.SearchPage{{
		Files: []*catalog.File{
			{ChannelID: -100123, MessageID: 1, FileName: "alpha movie 2020", FileSize: 1 << 30},
			{ChannelID: -100123, MessageID: 2, FileName: "alpha movie 2021", FileSize: 2 << 30},
		},
		Total: 5,
	}}
	service := newTestService(bot, store, &fakeQueue{}, 10)

	service.handleUpdate(tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 1,
		Chat:      &tgbotapi.Chat{ID: 4242, Type: "private"},
		From:      &tgbotapi.User{ID: 4242},
		Text:      "Alpha Movie",
	}})

	picker, ok := bot.lastSent(t).(tgbotapi.MessageConfig)
	require.True(t, ok)
	markup, ok := picker.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, markup.InlineKeyboard, 1)
	pickData := *markup.InlineKeyboard[0][0].CallbackData
	assert.True(t, strings.HasPrefix(pickData, "search:"))

	// Selecting the channel renders page one with a result row per file.
	service.handleUpdate(tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb-1",
		From:    &tgbotapi.User{ID: 4242},
		Message: &tgbotapi.Message{MessageID: 2, Chat: &tgbotapi.Chat{ID: 4242}},
		Data:    pickData,
	}})

	results, ok := bot.lastSent(t).(tgbotapi.EditMessageTextConfig)
	require.True(t, ok)
	assert.Contains(t, results.Text, "Found: 5 file(s)")
	assert.Contains(t, results.Text, "Movies")
	// Two result rows plus the navigation row; page size 2 of 5 => 3 pages.
	require.Len(t, results.ReplyMarkup.InlineKeyboard, 3)
	navigation := results.ReplyMarkup.InlineKeyboard[2]
	var labels []string
	for _, button := range navigation {
		labels = append(labels, button.Text)
	}
	assert.Contains(t, labels, "📃 1/3")
	assert.Contains(t, labels, "➡️")
	assert.NotContains(t, labels, "⬅️")

	firstRow := results.ReplyMarkup.InlineKeyboard[0][0]
	assert.Equal(t, "getfile:"+link.Encode(-100123, 1), *firstRow.CallbackData)
	assert.Contains(t, firstRow.Text, "alpha movie 2020")

	// Re-rendering the same page is served from the result cache.
	require.Equal(t, 1, store.searchCalls)
	service.handleUpdate(tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb-2",
		From:    &tgbotapi.User{ID: 4242},
		Message: &tgbotapi.Message{MessageID: 2, Chat: &tgbotapi.Chat{ID: 4242}},
		Data:    pickData,
	}})
	assert.Equal(t, 1, store.searchCalls)
}

func Test_SearchCallback_MissingMessageDoesNotPanic(t *testing.T) {
	t.Parallel()
	bot := &fakeBot{}
	service := newTestService(bot, newFakeStore(), &fakeQueue{}, 10)

	// Callbacks outlive their message after 48h; the Bot API then delivers
	// them with no Message attached.
	service.handleUpdate(tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:   "cb-1",
		From: &tgbotapi.User{ID: 4242},
		Data: "search:deadbeef:-100123:1:0",
	}})

	assert.Empty(t, bot.sent)
	last, ok := bot.requests[len(bot.requests)-1].(tgbotapi.CallbackConfig)
	require.True(t, ok)
	assert.Contains(t, last.Text, "too old")
	assert.True(t, last.ShowAlert)
}

func Test_SearchCallback_ExpiredQuery(t *testing.T) {
	t.Parallel()
	bot := &fakeBot{}
	service := newTestService(bot, newFakeStore(), &fakeQueue{}, 10)

	service.handleUpdate(tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb-1",
		From:    &tgbotapi.User{ID: 4242},
		Message: &tgbotapi.Message{MessageID: 2, Chat: &tgbotapi.Chat{ID: 4242}},
		Data:    "search:deadbeef:-100123:1:0",
	}})

	var alerts []string
	for _, request := range bot.requests {
		if callback, ok := request.(tgbotapi.CallbackConfig); ok && callback.Text != "" {
			alerts = append(alerts, callback.Text)
		}
	}
	require.NotEmpty(t, alerts)
	assert.Contains(t, alerts[0], "query has expired")
}
