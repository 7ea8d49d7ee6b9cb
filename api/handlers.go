package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"interp-crawler/database"
	"interp-crawler/index"
	"interp-crawler/models"
	"interp-crawler/utils"
)

var (
	errBadRequest = gin.H{"message": "Bad Request"}
	errNotFound   = gin.H{"message": "Not Found"}
	errInternal   = gin.H{"message": "Internal Server Error"}
)

type handler struct {
	store database.Store
}

// publicationView lists the fields a stored publication exposes publicly.
type publicationView struct {
	ID              string `json:"id,omitempty"`
	Title           string `json:"title"`
	PublicationDate string `json:"publicationDate"`
	Standards       []any  `json:"standards"`
	Content         string `json:"content,omitempty"`
	URL             string `json:"url"`
}

func viewOf(doc database.Document, withContent bool) publicationView {
	str := func(k string) string {
		s, _ := doc[k].(string)
		return s
	}
	stds, _ := doc["standardNumber"].([]any)
	if stds == nil {
		stds = []any{}
	}
	v := publicationView{
		Title:           str("title"),
		PublicationDate: str("publicationDate"),
		Standards:       stds,
		URL:             str("url"),
	}
	if withContent {
		v.Content = str("content")
	} else {
		v.ID = str("id")
	}
	return v
}

func (h *handler) internalError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, errInternal)
}

func (h *handler) getPublication(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		c.JSON(http.StatusBadRequest, errBadRequest)
		return
	}

	doc, err := h.store.GetByID(c.Request.Context(), models.PublicationsCollection, id)
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, errNotFound)
		return
	}
	if err != nil {
		h.internalError(c, err)
		return
	}

	c.JSON(http.StatusOK, viewOf(doc, true))
}

// listPublications filters by publication date range and standard number
// prefix. from and to take YYYY, YYYY-MM or YYYY-MM-DD and are inclusive.
func (h *handler) listPublications(c *gin.Context) {
	filter := database.Filter{}
	from, to := c.Query("from"), c.Query("to")

	if utils.DatePrefix(from) != from || utils.DatePrefix(to) != to {
		c.JSON(http.StatusBadRequest, errBadRequest)
		return
	}
	// Any date bound excludes undated publications.
	if from != "" || to != "" {
		lower := from
		if lower == "" {
			lower = "0"
		}
		filter = filter.And("publicationDate", database.OpGte, lower)
	}
	if to != "" {
		filter = filter.And("publicationDate", database.OpLte, upperBound(to))
	}
	if std := strings.TrimSpace(c.Query("standard")); std != "" {
		filter = filter.And("standardNumber", database.OpPrefix, std)
	}

	docs, err := h.store.Query(c.Request.Context(), models.PublicationsCollection, filter)
	if err != nil {
		h.internalError(c, err)
		return
	}

	out := make([]publicationView, 0, len(docs))
	for _, d := range docs {
		out = append(out, viewOf(d, false))
	}
	c.JSON(http.StatusOK, out)
}

// upperBound pads a partial date so that every full date within it compares
// lower or equal.
func upperBound(date string) string {
	switch len(date) {
	case len("2006"):
		return date + "-99-99"
	case len("2006-01"):
		return date + "-99"
	default:
		return date
	}
}

type standardOption struct {
	Label string `json:"label"`
	ID    string `json:"id"`
}

func (h *handler) listStandards(c *gin.Context) {
	values, err := h.store.Distinct(c.Request.Context(), models.PublicationsCollection, "standardNumber")
	if err != nil {
		h.internalError(c, err)
		return
	}

	out := make([]standardOption, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		out = append(out, standardOption{Label: v, ID: v})
	}
	c.JSON(http.StatusOK, out)
}

func (h *handler) standardsTree(c *gin.Context) {
	docs, err := h.store.Query(c.Request.Context(), models.StandardsCollection, database.Filter{})
	if err != nil {
		h.internalError(c, err)
		return
	}
	if docs == nil {
		docs = []database.Document{}
	}
	c.JSON(http.StatusOK, docs)
}

func (h *handler) organizedIndex(c *gin.Context) {
	docs, err := h.store.Query(c.Request.Context(), models.IndexesCollection,
		database.Filter{}.And(models.IndexKey, database.OpEq, index.SnapshotName))
	if err != nil {
		h.internalError(c, err)
		return
	}
	if len(docs) == 0 {
		c.JSON(http.StatusNotFound, errNotFound)
		return
	}
	c.JSON(http.StatusOK, docs[0])
}
