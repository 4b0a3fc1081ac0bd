package hls

import (
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"nvr-core/database"
)

// Handler serves assembled playlists and the fragment/init files they
// reference, the same route-group-under-gin shape as the teacher's
// api/server.go setupRoutes.
type Handler struct {
	db    database.Database
	tiers map[int]string // tier id -> root, for resolving a fragment's disk location into a URL
}

func NewHandler(db database.Database, tierRoots map[int]string) *Handler {
	return &Handler{db: db, tiers: tierRoots}
}

// Register wires the playlist and fragment routes onto r, mirroring the
// teacher's r.Static("/hls", ...) plus an api group.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/hls/:camera/playlist.m3u8", h.servePlaylist)
	r.GET("/hls/:camera/recording/:id/playlist.m3u8", h.serveRecordingPlaylist)
	r.GET("/hls/:camera/fragment/:tier/*rest", h.serveFragment)
}

func (h *Handler) routes(cameraID string) Routes {
	return Routes{
		Init: func(cam string) string {
			return "/hls/" + cam + "/fragment/init/init.mp4"
		},
		Fragment: func(f database.File) string {
			return "/hls/" + f.CameraID + "/fragment/" + strconv.Itoa(f.TierID) + "/" + f.Filename
		},
	}
}

func (h *Handler) servePlaylist(c *gin.Context) {
	cameraID := c.Param("camera")
	from, to, ok := parseWindow(c)
	if !ok {
		c.String(http.StatusBadRequest, "from and to query parameters are required")
		return
	}
	m3u8, err := Window(h.db, cameraID, from, to, h.routes(cameraID))
	if err != nil {
		c.String(http.StatusInternalServerError, "failed to assemble playlist: %v", err)
		return
	}
	c.Data(http.StatusOK, "application/vnd.apple.mpegurl", []byte(m3u8))
}

func (h *Handler) serveRecordingPlaylist(c *gin.Context) {
	cameraID := c.Param("camera")
	recordingID := c.Param("id")
	m3u8, found, err := Recording(h.db, recordingID, time.Now(), h.routes(cameraID))
	if err != nil {
		c.String(http.StatusInternalServerError, "failed to assemble playlist: %v", err)
		return
	}
	if !found {
		c.Status(http.StatusNotFound)
		return
	}
	c.Data(http.StatusOK, "application/vnd.apple.mpegurl", []byte(m3u8))
}

func (h *Handler) serveFragment(c *gin.Context) {
	tierParam := c.Param("tier")
	rest := c.Param("rest")
	if tierParam == "init" {
		// init segments are looked up the same as a fragment but keyed by the
		// lowest configured tier, where the camera's active recording lives.
		tierParam = "0"
	}
	tierID, err := strconv.Atoi(tierParam)
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}
	root, ok := h.tiers[tierID]
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}
	c.File(filepath.Join(root, rest))
}

func parseWindow(c *gin.Context) (from, to time.Time, ok bool) {
	fromStr := c.Query("from")
	toStr := c.Query("to")
	if fromStr == "" || toStr == "" {
		return time.Time{}, time.Time{}, false
	}
	f, err := time.Parse(time.RFC3339, fromStr)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, toStr)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	return f, t, true
}
