package internal

import (
	"github.com/Johnmclane5/TgSearchBot/internal/catalog"
	"github.com/Johnmclane5/TgSearchBot/internal/database"
)

type (
	// storeOrchestrator links the database manager with the dumb data store
	// below it, exposing connection-free methods to the rest of the system.
	// Consumers may access the catalog store directly if they carry their
	// own Queryable, but most should go through this layer.
	storeOrchestrator struct {
		db           database.Manager
		CatalogStore *catalog.Store
	}
)

func NewStoreOrchestrator(db database.Manager) *storeOrchestrator {
	return &storeOrchestrator{
		db:           db,
		CatalogStore: catalog.NewStore(),
	}
}

func (store *storeOrchestrator) GetFile(channelID int64, messageID int64) (*catalog.File, error) {
	return store.CatalogStore.Find(store.db.GetSqlxDb(), channelID, messageID)
}

func (store *storeOrchestrator) GetFileByName(channelID int64, name string) (*catalog.File, error) {
	return store.CatalogStore.FindByName(store.db.GetSqlxDb(), channelID, name)
}

func (store *storeOrchestrator) SaveFile(file *catalog.File) error {
	return store.CatalogStore.Upsert(store.db.GetSqlxDb(), file)
}

func (store *storeOrchestrator) DeleteFile(channelID int64, messageID int64) error {
	return store.CatalogStore.Delete(store.db.GetSqlxDb(), channelID, messageID)
}

func (store *storeOrchestrator) SearchFiles(channelID int64, sanitizedQuery string, offset int, limit int) (*catalog.SearchPage, error) {
	return store.CatalogStore.Search(store.db.GetSqlxDb(), channelID, sanitizedQuery, offset, limit)
}

func (store *storeOrchestrator) GetChannel(channelID int64) (*catalog.Channel, error) {
	return store.CatalogStore.GetChannel(store.db.GetSqlxDb(), channelID)
}

func (store *storeOrchestrator) GetAllChannels() ([]*catalog.Channel, error) {
	return store.CatalogStore.ListChannels(store.db.GetSqlxDb())
}

func (store *storeOrchestrator) SaveChannel(channel *catalog.Channel) error {
	return store.CatalogStore.SaveChannel(store.db.GetSqlxDb(), channel)
}

func (store *storeOrchestrator) GetCatalogStats() (map[int64]int, int64, error) {
	return store.CatalogStore.Stats(store.db.GetSqlxDb())
}
