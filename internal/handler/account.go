package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/pogo-tools/account-broker/internal/geo"
	"github.com/pogo-tools/account-broker/internal/service"
	"github.com/rs/zerolog/log"
)

// RegisterRoutes wires the full HTTP surface onto the router.
func RegisterRoutes(r *gin.Engine) {
	r.GET("/get/availability", GetAvailability)
	r.GET("/get/:device", GetAccount)
	r.POST("/get/:device", GetAccount)
	r.GET("/get/:device/info", GetAccountInfo)
	r.POST("/set/:device/level/:level", SetLevel)
	r.POST("/set/:device/burned", SetBurned)
	r.POST("/set/:device/login", SetLogin)
	r.POST("/set/:device/logout", SetLogout)
	r.POST("/set/:device/softban", SetSoftban)
	r.GET("/stats", Stats)
	r.GET("/test", TestPick)
	r.NoRoute(Fallback)
}

// GET /get/availability
func GetAvailability(c *gin.Context) {
	device := c.Query("device")
	purpose := c.Query("purpose")
	region := c.Query("region")

	svc := service.NewBroker()
	data, err := svc.GetAvailability(device, purpose, region)
	if err != nil {
		log.Error().Err(err).Str("device", device).Msg("availability check failed")
		respFail(c, http.StatusInternalServerError, nil)
		return
	}
	respOK(c, http.StatusOK, data)
}

// GET/POST /get/:device
func GetAccount(c *gin.Context) {
	device := c.Param("device")
	if device == "" {
		respFail(c, 0, "Missing 'device' parameter")
		return
	}

	var req service.AccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respFail(c, 0, "Invalid request body")
		return
	}
	if req.Purpose == "" {
		respFail(c, 0, "Missing 'purpose' parameter")
		return
	}

	svc := service.NewBroker()
	data, err := svc.GetAccount(device, req)
	if errors.Is(err, service.ErrNoCandidate) {
		noAccounts(c)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("device", device).Msg("get_account failed")
		respFail(c, http.StatusInternalServerError, nil)
		return
	}
	respOK(c, http.StatusOK, data)
}

// GET /get/:device/info
func GetAccountInfo(c *gin.Context) {
	device := c.Param("device")

	svc := service.NewBroker()
	data, err := svc.GetAccountInfo(device)
	if err != nil {
		log.Error().Err(err).Str("device", device).Msg("account info failed")
		respFail(c, http.StatusInternalServerError, nil)
		return
	}
	if data == nil {
		respOK(c, http.StatusNoContent, nil)
		return
	}
	respOK(c, http.StatusOK, data)
}

// POST /set/:device/level/:level
func SetLevel(c *gin.Context) {
	device := c.Param("device")
	level, err := strconv.Atoi(c.Param("level"))
	if err != nil || level <= 0 {
		respFail(c, 0, "Missing 'device' parameter")
		return
	}

	if err := service.NewBroker().SetLevel(device, level); err != nil {
		log.Error().Err(err).Str("device", device).Msg("set_level failed")
		respFail(c, http.StatusInternalServerError, nil)
		return
	}
	respOK(c, http.StatusOK, nil)
}

// POST /set/:device/softban
func SetSoftban(c *gin.Context) {
	device := c.Param("device")

	var body struct {
		Time     string        `json:"time"`
		Location *geo.Location `json:"location"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Time == "" || body.Location == nil {
		respFail(c, 0, "Missing 'time' or 'location' parameter")
		return
	}

	if err := service.NewBroker().SetSoftban(device, body.Time, *body.Location); err != nil {
		log.Error().Err(err).Str("device", device).Msg("set_softban failed")
		respFail(c, http.StatusInternalServerError, nil)
		return
	}
	respOK(c, http.StatusNoContent, nil)
}

// releaseBody is shared by logout and burned.
type releaseBody struct {
	Reason     string `json:"reason"`
	Encounters *int64 `json:"encounters"`
	Level      *int   `json:"level"`
}

// POST /set/:device/login
func SetLogin(c *gin.Context) {
	device := c.Param("device")

	data, err := service.NewBroker().SetLogin(device)
	if err != nil {
		log.Error().Err(err).Str("device", device).Msg("set_login failed")
		respFail(c, http.StatusInternalServerError, nil)
		return
	}
	respOK(c, http.StatusOK, data)
}

// POST /set/:device/logout
func SetLogout(c *gin.Context) {
	device := c.Param("device")

	var body releaseBody
	_ = c.ShouldBindJSON(&body) // body is optional

	data, err := service.NewBroker().SetLogout(device, body.Encounters, body.Level)
	if err != nil {
		log.Error().Err(err).Str("device", device).Msg("set_logout failed")
		respFail(c, http.StatusInternalServerError, nil)
		return
	}
	respOK(c, http.StatusOK, data)
}

// POST /set/:device/burned
func SetBurned(c *gin.Context) {
	device := c.Param("device")

	var body releaseBody
	_ = c.ShouldBindJSON(&body) // body is optional

	data, err := service.NewBroker().SetBurned(device, body.Reason, body.Encounters, body.Level)
	if err != nil {
		log.Error().Err(err).Str("device", device).Msg("set_burned failed")
		respFail(c, http.StatusInternalServerError, nil)
		return
	}
	respOK(c, http.StatusOK, data)
}

// GET /stats — the stats map is served without the envelope.
func Stats(c *gin.Context) {
	stats, err := service.NewBroker().Stats()
	if err != nil {
		log.Error().Err(err).Msg("stats failed")
		respFail(c, http.StatusInternalServerError, nil)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GET /test — diagnostic dry-run pick.
func TestPick(c *gin.Context) {
	device := c.DefaultQuery("device", "test")
	region := c.DefaultQuery("region", "EU")
	purpose := c.DefaultQuery("purpose", "iv")
	lat, _ := strconv.ParseFloat(c.DefaultQuery("lat", "0"), 64)
	lng, _ := strconv.ParseFloat(c.DefaultQuery("lng", "0"), 64)

	data, err := service.NewBroker().TestPick(device, region, purpose, geo.Location{Lat: lat, Lng: lng})
	if err != nil {
		log.Error().Err(err).Msg("test pick failed")
		respFail(c, http.StatusInternalServerError, nil)
		return
	}
	if data == nil {
		respOK(c, http.StatusNoContent, nil)
		return
	}
	respOK(c, http.StatusOK, data)
}

// Fallback answers anything unrouted with a 400.
func Fallback(c *gin.Context) {
	log.Info().Str("method", c.Request.Method).Str("path", c.Request.URL.Path).Msg("fallback called")
	respFail(c, 0, "Unhandled request")
}
