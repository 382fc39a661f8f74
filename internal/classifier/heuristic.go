package classifier

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/54b3r/routerag-go/internal/tokens"
)

// strongTerms name weather directly.
var strongTerms = []string{
	"weather", "temperature", "temperatures", "forecast", "humidity", "humid",
	"wind", "windy", "rain", "raining", "rainy", "snow", "snowing", "sunny",
	"cloudy", "degrees", "celsius", "fahrenheit", "precipitation", "storm",
	"thunderstorm", "aqi", "air quality", "air quality index", "pollution", "smog",
}

// weakTerms hint at weather but are common in other topics.
var weakTerms = []string{"hot", "cold", "warm", "chilly", "atmosphere", "umbrella", "sunshine"}

// airQualityTerms mark a request for pollution readings.
var airQualityTerms = []string{"aqi", "air quality", "pollution", "smog"}

// knownCities are matched as whole words anywhere in the query.
var knownCities = []string{
	"london", "new york", "tokyo", "paris", "berlin", "moscow", "beijing",
	"sydney", "toronto", "vancouver", "san francisco", "los angeles", "chicago",
	"miami", "boston", "seattle", "denver", "phoenix", "dallas", "houston",
	"atlanta", "delhi", "new delhi", "mumbai", "bangalore", "chennai", "kolkata",
	"hyderabad", "pune", "ahmedabad", "jaipur", "lucknow", "kanpur", "nagpur",
	"indore", "thane", "bhopal", "visakhapatnam", "patna", "vadodara",
	"ghaziabad", "ludhiana", "madrid", "rome", "dubai", "singapore",
}

func init() {
	// Longest first so "new delhi" wins over "delhi".
	sort.SliceStable(knownCities, func(i, j int) bool { return len(knownCities[i]) > len(knownCities[j]) })
}

var (
	// placeAfterPreposition captures a capitalised place name after a preposition.
	placeAfterPreposition = regexp.MustCompile(`\b(?:in|for|at|of|to|near)\s+((?:\p{Lu}[\p{L}'.-]*)(?:\s+\p{Lu}[\p{L}'.-]*){0,2})`)

	// placeAfterTerm captures the word after "<term> in|for|at" in any case.
	placeAfterTerm = regexp.MustCompile(`\b(?:weather|temperature|forecast|humidity|aqi|pollution|quality|rain)\s+(?:in|for|at)\s+([\p{L}'-]+)`)

	// placeBeforeTerm captures the word before "weather|temperature|forecast".
	placeBeforeTerm = regexp.MustCompile(`([\p{L}'-]+)\s+(?:weather|temperature|forecast)\b`)
)

// notPlaces are words the loose patterns capture that are never places.
var notPlaces = map[string]struct{}{
	"today": {}, "tomorrow": {}, "tonight": {}, "now": {}, "current": {},
	"todays": {}, "today's": {}, "local": {}, "good": {}, "bad": {}, "nice": {},
	"outside": {}, "general": {}, "average": {}, "morning": {}, "evening": {},
	"week": {}, "weekend": {}, "the": {}, "what's": {}, "whats": {}, "body": {},
	"room": {}, "water": {}, "high": {}, "low": {}, "normal": {}, "core": {},
	"tomorrow's": {}, "celsius": {}, "fahrenheit": {}, "kelvin": {}, "detail": {},
}

// analysis is the heuristic's result plus whether it saw any weather
// evidence.
type analysis struct {
	decision RouteDecision
	evidence bool
	location string
}

// Heuristic classifies query without any model call.
func Heuristic(query string, documentsIngested bool) RouteDecision {
	return analyze(query, documentsIngested).decision
}

func analyze(query string, documentsIngested bool) analysis {
	text := " " + strings.Join(tokens.All(query), " ") + " "
	strong := matchTerms(text, strongTerms)
	weak := matchTerms(text, weakTerms)
	location := ExtractLocation(query)

	d := RouteDecision{
		AirQuality: len(matchTerms(text, airQualityTerms)) > 0,
		Source:     SourceHeuristic,
	}

	switch {
	case len(strong) > 0 && location != "":
		d.Branch = BranchWeather
		d.Location = location
		d.Confidence = min(0.95, 0.85+0.05*float32(len(strong)-1))
		d.Rationale = fmt.Sprintf("weather terms %s with location %q", quoteList(strong), location)
		return analysis{d, true, location}

	case len(strong) > 0:
		d.Branch = BranchWeather
		d.Confidence = 0.55
		d.Rationale = fmt.Sprintf("weather terms %s but no location", quoteList(strong))
		return analysis{d, true, location}

	case len(weak) > 0 && location != "":
		d.Branch = BranchWeather
		d.Location = location
		d.Confidence = 0.7
		d.Rationale = fmt.Sprintf("weather hints %s with location %q", quoteList(weak), location)
		return analysis{d, true, location}

	case len(weak) > 0:
		if documentsIngested {
			d.Branch = BranchRAG
			d.Confidence = 0.45
			d.Rationale = fmt.Sprintf("ambiguous hints %s; documents are available", quoteList(weak))
		} else {
			d.Branch = BranchWeather
			d.Confidence = 0.3
			d.Rationale = fmt.Sprintf("ambiguous hints %s; no documents ingested", quoteList(weak))
		}
		return analysis{d, false, location}
	}

	d.Branch = BranchRAG
	if documentsIngested {
		d.Confidence = 0.8
		d.Rationale = "no weather terms; documents are available"
	} else {
		d.Confidence = 0.5
		d.Rationale = "no weather terms; no documents ingested yet"
	}
	return analysis{d, false, location}
}

// matchTerms returns the terms found as whole words in text, which must be
// space-padded lower-case words.
func matchTerms(text string, terms []string) []string {
	var found []string
	for _, t := range terms {
		if strings.Contains(text, " "+t+" ") {
			found = append(found, t)
		}
	}
	return found
}

// regionCities maps a country, or its demonym, to the city queried when a
// query names only the region.
var regionCities = map[string]string{
	"india":  "Delhi",
	"indian": "Delhi",
}

// ExtractLocation returns the place a query names, or "" if none is found.
// Known cities are preferred, then a capitalised name after a preposition,
// then the loose "weather in X" and "X weather" forms. A query that names
// only a known region resolves to that region's city.
func ExtractLocation(query string) string {
	place := extractPlace(query)
	if city, ok := regionCities[strings.ToLower(place)]; ok {
		return city
	}
	if place == "" {
		for _, w := range tokens.All(query) {
			if city, ok := regionCities[w]; ok {
				return city
			}
		}
	}
	return place
}

func extractPlace(query string) string {
	text := " " + strings.Join(tokens.All(query), " ") + " "
	for _, city := range knownCities {
		if strings.Contains(text, " "+city+" ") {
			return titleWords(city)
		}
	}

	for _, m := range placeAfterPreposition.FindAllStringSubmatch(query, -1) {
		if place := strings.TrimRight(m[1], ".'-"); !isNotPlace(place) {
			return place
		}
	}

	lower := strings.ToLower(query)
	for _, re := range []*regexp.Regexp{placeAfterTerm, placeBeforeTerm} {
		if m := re.FindStringSubmatch(lower); m != nil && !isNotPlace(m[1]) && !tokens.IsStopword(m[1]) {
			return titleWords(m[1])
		}
	}
	return ""
}

func isNotPlace(s string) bool {
	_, ok := notPlaces[strings.ToLower(s)]
	return ok
}

func titleWords(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(w)
		words[i] = strings.ToUpper(string(r[0])) + string(r[1:])
	}
	return strings.Join(words, " ")
}

func quoteList(terms []string) string {
	q := make([]string, len(terms))
	for i, t := range terms {
		q[i] = fmt.Sprintf("%q", t)
	}
	return strings.Join(q, ", ")
}
