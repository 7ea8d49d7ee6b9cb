package crawler

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"gopkg.in/yaml.v3"

	"interp-crawler/models"
	"interp-crawler/utils"
)

// RuleSetVersion identifies the selector table below. Bump it whenever the
// site's markup forces a selector change.
const RuleSetVersion = "osha-2025.1"

type ListingRule struct {
	Links    string `yaml:"links"`
	NextPage string `yaml:"next_page"`
}

type DetailRule struct {
	Title     string `yaml:"title"`
	Standards string `yaml:"standards"`
	Body      string `yaml:"body"`
}

type TaxonomyRule struct {
	Links string `yaml:"links"`
}

// RuleSet is the selector table for every page type the crawler visits.
type RuleSet struct {
	Version  string       `yaml:"version"`
	Listing  ListingRule  `yaml:"listing"`
	Detail   DetailRule   `yaml:"detail"`
	Taxonomy TaxonomyRule `yaml:"taxonomy"`
}

var DefaultRules = RuleSet{
	Version: RuleSetVersion,
	Listing: ListingRule{
		Links:    ".view-content li a",
		NextPage: ".pager__item--next a",
	},
	Detail: DetailRule{
		Title:     "#breadcrumbs-container li.active",
		Standards: ".field--name-field-fr-standard-number a",
		Body:      "article .field--name-body",
	},
	Taxonomy: TaxonomyRule{
		Links: "div.view-content li a",
	},
}

// LoadRules reads selector overrides from a YAML file. Selectors the file
// leaves out keep their DefaultRules value; the file must name its own
// version so stored records can be traced to the rules that produced them.
func LoadRules(path string) (RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RuleSet{}, fmt.Errorf("failed to read rules file: %w", err)
	}

	rules := DefaultRules
	rules.Version = ""
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return RuleSet{}, fmt.Errorf("failed to parse rules file %s: %w", path, err)
	}
	if strings.TrimSpace(rules.Version) == "" {
		return RuleSet{}, fmt.Errorf("rules file %s: version is required", path)
	}
	return rules, nil
}

type ListingResult struct {
	DetailLinks []string
	NextPage    string
}

// ExtractListing returns the detail links of a listing page in page order
// and the next-page link, if any.
func (r RuleSet) ExtractListing(doc *goquery.Document, pageURL string) ListingResult {
	var res ListingResult
	seen := make(map[string]struct{})

	doc.Find(r.Listing.Links).Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		link := utils.ResolveURL(pageURL, href)
		if link == "" || !utils.IsValidURL(link) {
			return
		}
		key := utils.NormalizeURL(link)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		res.DetailLinks = append(res.DetailLinks, link)
	})

	if href, ok := doc.Find(r.Listing.NextPage).First().Attr("href"); ok {
		res.NextPage = utils.ResolveURL(pageURL, href)
	}

	return res
}

// ExtractDetail builds a publication from a detail page. Missing elements
// leave their field empty; the record is still produced.
func (r RuleSet) ExtractDetail(doc *goquery.Document, pageURL string, scrapedAt time.Time) models.Publication {
	standards := []string{}
	doc.Find(r.Detail.Standards).Each(func(_ int, sel *goquery.Selection) {
		if s := strings.TrimSpace(sel.Text()); s != "" {
			standards = append(standards, s)
		}
	})

	return models.Publication{
		ID:              utils.DocumentID(models.PublicationsCollection, pageURL),
		Title:           strings.TrimSpace(doc.Find(r.Detail.Title).First().Text()),
		URL:             pageURL,
		PublicationDate: utils.DatePrefix(utils.LastPathSegment(pageURL)),
		StandardNumber:  standards,
		Content:         strings.TrimSpace(doc.Find(r.Detail.Body).Last().Text()),
		ScrapedAt:       scrapedAt,
	}
}

// ExtractTaxonomyRoot returns the top-level standards listed on the
// taxonomy root page. Numbers repeated on the page keep their first entry.
func (r RuleSet) ExtractTaxonomyRoot(doc *goquery.Document, pageURL string) []models.StandardNode {
	var nodes []models.StandardNode
	seen := make(map[string]struct{})

	r.eachStandardLink(doc, pageURL, func(number, title, link, _ string) {
		if _, dup := seen[number]; dup {
			return
		}
		seen[number] = struct{}{}
		nodes = append(nodes, models.StandardNode{
			ID:             utils.DocumentID(models.StandardsCollection, number),
			StandardNumber: number,
			StandardTitle:  title,
			URL:            link,
			Children:       []models.StandardChild{},
		})
	})

	return nodes
}

const tableOfContents = "Table of Contents"

// ExtractTaxonomyChildren returns the child standards listed on one
// standard's page, skipping table-of-contents entries.
func (r RuleSet) ExtractTaxonomyChildren(doc *goquery.Document, pageURL string) []models.StandardChild {
	var children []models.StandardChild

	r.eachStandardLink(doc, pageURL, func(number, title, link, text string) {
		if strings.HasPrefix(title, tableOfContents) || strings.HasPrefix(text, tableOfContents) {
			return
		}
		children = append(children, models.StandardChild{
			StandardNumber: number,
			StandardTitle:  title,
			URL:            link,
		})
	})

	return children
}

func (r RuleSet) eachStandardLink(doc *goquery.Document, pageURL string, fn func(number, title, link, text string)) {
	doc.Find(r.Taxonomy.Links).Each(func(_ int, sel *goquery.Selection) {
		text := strings.TrimSpace(sel.Text())
		number, title, ok := ParseStandardText(text)
		if !ok {
			return
		}
		href, _ := sel.Attr("href")
		fn(number, title, utils.ResolveURL(pageURL, href), text)
	})
}

var partPrefix = regexp.MustCompile(`(?i)^part\s+`)

// ParseStandardText splits anchor text such as "Part 1910 - Occupational
// Safety and Health Standards" on its first hyphen. Text without a hyphen,
// or with nothing before it, is not a standard entry.
func ParseStandardText(text string) (number, title string, ok bool) {
	dash := strings.Index(text, "-")
	if dash < 0 {
		return "", "", false
	}

	number = partPrefix.ReplaceAllString(strings.TrimSpace(text[:dash]), "")
	number = strings.TrimSpace(number)
	if number == "" {
		return "", "", false
	}

	return number, strings.TrimSpace(text[dash+1:]), true
}
