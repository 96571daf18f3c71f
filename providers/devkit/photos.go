// Package devkit provides an in-memory photo service and connector used to run
// transfers locally and to exercise the engine in tests.
package devkit

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/goliatone/go-transfer/core"
)

const ContainerTypeAlbum = "album"

type Album struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type Photo struct {
	ID      string `json:"id"`
	AlbumID string `json:"album_id"`
	Title   string `json:"title"`
	URL     string `json:"url,omitempty"`
}

// PhotosContainer is the payload exchanged by the devkit exporter and importer.
// A page holds either album definitions or the photos of one album.
type PhotosContainer struct {
	Albums []Album `json:"albums,omitempty"`
	Photos []Photo `json:"photos,omitempty"`
}

func (PhotosContainer) Vertical() core.DataVertical {
	return core.VerticalPhotos
}

// PhotoLibrary is one account on a fake photo service. It is safe for concurrent
// use.
type PhotoLibrary struct {
	mu          sync.Mutex
	accessToken string
	albums      []Album
	photos      map[string][]Photo
	nextID      int
}

func NewPhotoLibrary(accessToken string) *PhotoLibrary {
	return &PhotoLibrary{
		accessToken: strings.TrimSpace(accessToken),
		photos:      map[string][]Photo{},
	}
}

func (l *PhotoLibrary) AccessToken() string {
	return l.accessToken
}

// AddAlbum seeds an album and its photos. Photos inherit the album id.
func (l *PhotoLibrary) AddAlbum(album Album, photos ...Photo) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.albums = append(l.albums, album)
	for _, photo := range photos {
		photo.AlbumID = album.ID
		l.photos[album.ID] = append(l.photos[album.ID], photo)
	}
}

// SeedAlbums fills the library with albumCount albums of photosPerAlbum photos.
func (l *PhotoLibrary) SeedAlbums(albumCount int, photosPerAlbum int) {
	for a := 1; a <= albumCount; a++ {
		album := Album{ID: fmt.Sprintf("album-%d", a), Name: fmt.Sprintf("Album %d", a)}
		photos := make([]Photo, 0, photosPerAlbum)
		for p := 1; p <= photosPerAlbum; p++ {
			photos = append(photos, Photo{
				ID:    fmt.Sprintf("%s-photo-%d", album.ID, p),
				Title: fmt.Sprintf("Photo %d of %s", p, album.Name),
			})
		}
		l.AddAlbum(album, photos...)
	}
}

func (l *PhotoLibrary) Albums() []Album {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Album(nil), l.albums...)
}

func (l *PhotoLibrary) Photos(albumID string) []Photo {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Photo(nil), l.photos[albumID]...)
}

// AlbumByName returns the first album with the given name.
func (l *PhotoLibrary) AlbumByName(name string) (Album, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, album := range l.albums {
		if album.Name == name {
			return album, true
		}
	}
	return Album{}, false
}

// PhotoTitles lists every photo title in the library, sorted.
func (l *PhotoLibrary) PhotoTitles() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	titles := []string{}
	for _, photos := range l.photos {
		for _, photo := range photos {
			titles = append(titles, photo.Title)
		}
	}
	sort.Strings(titles)
	return titles
}

func (l *PhotoLibrary) createAlbum(name string, description string) Album {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	album := Album{ID: "created-album-" + strconv.Itoa(l.nextID), Name: name, Description: description}
	l.albums = append(l.albums, album)
	return album
}

func (l *PhotoLibrary) uploadPhoto(albumID string, photo Photo) (Photo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	found := false
	for _, album := range l.albums {
		if album.ID == albumID {
			found = true
			break
		}
	}
	if !found {
		return Photo{}, fmt.Errorf("devkit: album %q not found", albumID)
	}
	l.nextID++
	photo.ID = "created-photo-" + strconv.Itoa(l.nextID)
	photo.AlbumID = albumID
	l.photos[albumID] = append(l.photos[albumID], photo)
	return photo, nil
}

func (l *PhotoLibrary) authorize(auth core.AuthData) error {
	if l.accessToken == "" {
		return nil
	}
	if strings.TrimSpace(auth.AccessToken) != l.accessToken {
		return fmt.Errorf("devkit: access token rejected")
	}
	return nil
}

// page slices items from the offset encoded in token.
func page[T any](items []T, token string, size int) ([]T, string, error) {
	offset := 0
	if strings.TrimSpace(token) != "" {
		parsed, err := strconv.Atoi(token)
		if err != nil || parsed < 0 {
			return nil, "", fmt.Errorf("devkit: invalid page token %q", token)
		}
		offset = parsed
	}
	if offset >= len(items) {
		return nil, "", nil
	}
	end := len(items)
	if size > 0 && offset+size < end {
		end = offset + size
	}
	next := ""
	if end < len(items) {
		next = strconv.Itoa(end)
	}
	return append([]T(nil), items[offset:end]...), next, nil
}
