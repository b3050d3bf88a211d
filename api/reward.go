package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/semanticallynull/bikeshare-backend/ranking"
)

func (a *API) achievementsHandler(c *gin.Context) {
	m, ok := a.currentMember(c)
	if !ok {
		return
	}

	earned, err := a.Achievements.ListForMember(c, m.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, earned)
}

// week reads ?week=YYYY-MM-DD, defaulting to the last completed week. The
// current week has no snapshot until it ends.
func (a *API) week(c *gin.Context) (time.Time, bool) {
	loc := a.Rankings.Location()
	s := c.Query("week")
	if s == "" {
		return ranking.PreviousWeek(a.Clock.Now(), loc), true
	}
	w, err := ranking.ParseWeek(s, loc)
	if err != nil {
		badRequest(c, "week must be a YYYY-MM-DD date")
		return time.Time{}, false
	}
	return w, true
}

func (a *API) weeklyRankingHandler(c *gin.Context) {
	week, ok := a.week(c)
	if !ok {
		return
	}

	entries, err := a.Rankings.Weekly(c, week, queryLimit(c))
	if err != nil {
		writeError(c, err)
		return
	}
	if entries == nil {
		entries = []ranking.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"weekStart": week, "entries": entries})
}

func (a *API) allTimeRankingHandler(c *gin.Context) {
	entries, err := a.Rankings.AllTime(c, queryLimit(c))
	if err != nil {
		writeError(c, err)
		return
	}
	if entries == nil {
		entries = []ranking.Entry{}
	}
	c.JSON(http.StatusOK, entries)
}

// runWeeklyRankingHandler triggers a weekly run on demand. Without ?week= it
// runs the last completed week, as the scheduler does. Weeks that have not
// ended are rejected.
func (a *API) runWeeklyRankingHandler(c *gin.Context) {
	week, ok := a.week(c)
	if !ok {
		return
	}

	res, err := a.Rankings.RunWeek(c.Request.Context(), week)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
