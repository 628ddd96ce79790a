package library

import (
	"errors"
	"time"

	"Resonate/song"

	"github.com/Strum355/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Favorite is one starred song. The (song id, source) pair is the natural key;
// the same upstream id can exist on more than one source.
type Favorite struct {
	ID        uint   `gorm:"primaryKey"`
	SongID    string `gorm:"uniqueIndex:idx_favorite_song"`
	Source    string `gorm:"uniqueIndex:idx_favorite_song"`
	Name      string
	Artist    string
	Album     string
	Pic       string
	Duration  int
	CreatedAt time.Time
}

// Playlist is a user-curated list of songs.
type Playlist struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"uniqueIndex"`
	CreatedAt time.Time
	Entries   []PlaylistEntry `gorm:"constraint:OnDelete:CASCADE"`
}

// PlaylistEntry is one song within a playlist, ordered by Position.
type PlaylistEntry struct {
	ID         uint `gorm:"primaryKey"`
	PlaylistID uint `gorm:"index"`
	Position   int
	SongID     string
	Source     string
	Name       string
	Artist     string
	Album      string
	Pic        string
	Duration   int
}

// Library is the persistent favorites and playlists store.
type Library struct {
	db *gorm.DB
}

// Init connects to Postgres, waiting for the database to come up, and
// migrates the schema. The retry loop covers container startup races.
func Init(dsn string) (*Library, error) {
	var db *gorm.DB
	var err error
	for i := 0; i < 10; i++ {
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
		if err == nil {
			sqlDB, dbErr := db.DB()
			if dbErr == nil {
				if pingErr := sqlDB.Ping(); pingErr == nil {
					break
				}
			}
		}
		log.Info("Waiting for Postgres to be ready...")
		time.Sleep(time.Second)
	}
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&Favorite{}, &Playlist{}, &PlaylistEntry{}); err != nil {
		return nil, err
	}
	return &Library{db: db}, nil
}

// AddFavorite stars a song. Starring an already-starred song is a no-op.
func (l *Library) AddFavorite(s song.Song) error {
	fav := Favorite{
		SongID:   s.ID,
		Source:   string(s.Source),
		Name:     s.Name,
		Artist:   s.Artist,
		Album:    s.Album,
		Pic:      s.Pic,
		Duration: s.Duration,
	}
	err := l.db.Create(&fav).Error
	if err != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil
	}
	return err
}

func (l *Library) RemoveFavorite(id string, source song.Source) error {
	return l.db.Where("song_id = ? AND source = ?", id, string(source)).
		Delete(&Favorite{}).Error
}

func (l *Library) IsFavorite(id string, source song.Source) (bool, error) {
	var count int64
	err := l.db.Model(&Favorite{}).
		Where("song_id = ? AND source = ?", id, string(source)).
		Count(&count).Error
	return count > 0, err
}

// Favorites lists starred songs, newest first.
func (l *Library) Favorites() ([]song.Song, error) {
	var favs []Favorite
	if err := l.db.Order("created_at DESC").Find(&favs).Error; err != nil {
		return nil, err
	}
	out := make([]song.Song, 0, len(favs))
	for _, f := range favs {
		out = append(out, song.Song{
			ID:        f.SongID,
			Source:    song.Source(f.Source),
			Name:      f.Name,
			Artist:    f.Artist,
			Album:     f.Album,
			Pic:       f.Pic,
			Duration:  f.Duration,
			IsValidID: !song.IsPlaceholderID(f.SongID),
		})
	}
	return out, nil
}

func (l *Library) CreatePlaylist(name string) (*Playlist, error) {
	p := Playlist{Name: name}
	if err := l.db.Create(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (l *Library) DeletePlaylist(id uint) error {
	return l.db.Select("Entries").Delete(&Playlist{ID: id}).Error
}

func (l *Library) Playlists() ([]Playlist, error) {
	var lists []Playlist
	err := l.db.Order("created_at ASC").Find(&lists).Error
	return lists, err
}

// AddToPlaylist appends a song at the end of a playlist.
func (l *Library) AddToPlaylist(playlistID uint, s song.Song) error {
	var max int
	l.db.Model(&PlaylistEntry{}).
		Where("playlist_id = ?", playlistID).
		Select("COALESCE(MAX(position), 0)").Scan(&max)

	entry := PlaylistEntry{
		PlaylistID: playlistID,
		Position:   max + 1,
		SongID:     s.ID,
		Source:     string(s.Source),
		Name:       s.Name,
		Artist:     s.Artist,
		Album:      s.Album,
		Pic:        s.Pic,
		Duration:   s.Duration,
	}
	return l.db.Create(&entry).Error
}

func (l *Library) RemoveFromPlaylist(entryID uint) error {
	return l.db.Delete(&PlaylistEntry{}, entryID).Error
}

// PlaylistSongs lists a playlist's songs in insertion order.
func (l *Library) PlaylistSongs(playlistID uint) ([]song.Song, error) {
	var entries []PlaylistEntry
	err := l.db.Where("playlist_id = ?", playlistID).
		Order("position ASC").Find(&entries).Error
	if err != nil {
		return nil, err
	}
	out := make([]song.Song, 0, len(entries))
	for _, e := range entries {
		out = append(out, song.Song{
			ID:        e.SongID,
			Source:    song.Source(e.Source),
			Name:      e.Name,
			Artist:    e.Artist,
			Album:     e.Album,
			Pic:       e.Pic,
			Duration:  e.Duration,
			IsValidID: !song.IsPlaceholderID(e.SongID),
		})
	}
	return out, nil
}
