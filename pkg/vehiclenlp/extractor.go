// Package vehiclenlp parses free-text part descriptions such as
// "2015 chevy silverado 1500 5.3L 4WD tailgate" into a vehicle descriptor
// and a part name, and canonicalizes make spellings.
package vehiclenlp

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

type makeEntry struct {
	name    string
	aliases []string
	models  []string
}

var makes = []makeEntry{
	{"Toyota", nil, []string{"Camry", "Corolla", "RAV4", "Highlander", "Tacoma", "Tundra", "Prius", "4Runner", "Sienna", "Sequoia", "Land Cruiser"}},
	{"Honda", nil, []string{"Civic", "Accord", "CR-V", "Pilot", "Odyssey", "HR-V", "Ridgeline", "Fit", "Element"}},
	{"Ford", nil, []string{"F-150", "F-250", "F-350", "Mustang", "Explorer", "Escape", "Ranger", "Bronco", "Edge", "Expedition", "Focus", "Fusion", "Taurus", "Transit"}},
	{"Chevrolet", []string{"chevy"}, []string{"Silverado 1500", "Silverado 2500", "Silverado", "Equinox", "Malibu", "Tahoe", "Suburban", "Camaro", "Colorado", "Impala", "Cruze", "Traverse"}},
	{"GMC", nil, []string{"Sierra 1500", "Sierra", "Yukon", "Canyon", "Acadia", "Terrain"}},
	{"Dodge", nil, []string{"Charger", "Challenger", "Durango", "Grand Caravan", "Dakota"}},
	{"Ram", nil, []string{"1500", "2500", "3500", "ProMaster"}},
	{"Jeep", nil, []string{"Wrangler", "Grand Cherokee", "Cherokee", "Liberty", "Compass", "Patriot", "Gladiator"}},
	{"Chrysler", nil, []string{"Pacifica", "Town & Country", "200", "300"}},
	{"Nissan", nil, []string{"Altima", "Sentra", "Rogue", "Pathfinder", "Frontier", "Maxima", "Murano", "Titan", "Xterra"}},
	{"Hyundai", nil, []string{"Elantra", "Sonata", "Tucson", "Santa Fe", "Accent"}},
	{"Kia", nil, []string{"Forte", "Optima", "Sportage", "Sorento", "Soul", "Rio"}},
	{"Subaru", nil, []string{"Outback", "Forester", "Crosstrek", "Impreza", "Legacy", "WRX"}},
	{"Mazda", nil, []string{"Mazda3", "Mazda6", "CX-5", "CX-9", "MX-5", "Tribute"}},
	{"Volkswagen", []string{"vw"}, []string{"Golf", "Jetta", "Passat", "Tiguan", "Beetle", "Atlas"}},
	{"BMW", nil, []string{"3 Series", "5 Series", "X3", "X5", "328i", "335i", "528i"}},
	{"Mercedes-Benz", []string{"mercedes", "benz", "merc"}, []string{"C-Class", "E-Class", "S-Class", "ML350", "GLK350", "Sprinter"}},
	{"Audi", nil, []string{"A4", "A6", "Q5", "Q7", "A3"}},
	{"Lexus", nil, []string{"RX350", "ES350", "IS250", "GX470", "RX", "ES", "IS", "GX"}},
	{"Acura", nil, []string{"TL", "TSX", "MDX", "RDX"}},
	{"Buick", nil, []string{"Enclave", "LaCrosse", "Lucerne", "Encore"}},
	{"Cadillac", nil, []string{"Escalade", "CTS", "SRX", "DeVille"}},
	{"Lincoln", nil, []string{"Navigator", "Town Car", "MKZ"}},
	{"Mitsubishi", nil, []string{"Outlander", "Lancer", "Galant"}},
	{"Volvo", nil, []string{"XC90", "XC60", "S60"}},
	{"Tesla", nil, []string{"Model 3", "Model Y", "Model S", "Model X"}},
	{"Land Rover", nil, []string{"Range Rover", "Discovery", "LR4"}},
	{"Mini", nil, []string{"Cooper"}},
}

var (
	// makeKeys holds every lowercase make name and alias, longest first.
	makeKeys  []string
	makeByKey = map[string]string{}
	// modelsByMake holds each make's models, longest first.
	modelsByMake = map[string][]string{}
	// soleMake maps a lowercase model to its make when only one make has it.
	soleMake = map[string]string{}
)

func init() {
	owners := map[string][]string{}
	for _, e := range makes {
		keys := append([]string{strings.ToLower(e.name)}, e.aliases...)
		for _, k := range keys {
			makeByKey[k] = e.name
			makeKeys = append(makeKeys, k)
		}
		models := append([]string(nil), e.models...)
		sort.SliceStable(models, func(i, j int) bool { return len(models[i]) > len(models[j]) })
		modelsByMake[e.name] = models
		for _, m := range e.models {
			owners[strings.ToLower(m)] = append(owners[strings.ToLower(m)], e.name)
		}
	}
	sort.SliceStable(makeKeys, func(i, j int) bool { return len(makeKeys[i]) > len(makeKeys[j]) })
	for m, o := range owners {
		// Bare numbers like "1500" are too ambiguous to imply a make.
		if len(o) == 1 && !isNumeric(m) {
			soleMake[m] = o[0]
		}
	}
}

// CanonicalMake returns the canonical spelling of a make or one of its
// aliases ("chevy" → "Chevrolet"). Unknown makes are title-cased.
func CanonicalMake(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if name, ok := makeByKey[strings.ToLower(s)]; ok {
		return name
	}
	return titleCase(s)
}

// CanonicalModel returns the known spelling of model for make, or the input
// with whitespace collapsed.
func CanonicalModel(make_, model string) string {
	model = strings.Join(strings.Fields(model), " ")
	for _, m := range modelsByMake[CanonicalMake(make_)] {
		if strings.EqualFold(m, model) {
			return m
		}
	}
	return model
}

// Descriptor is the result of parsing a free-text part description.
type Descriptor struct {
	Year       int
	Make       string
	Model      string
	Engine     string
	Drivetrain string
	Part       string
	Confidence float64 // 0.0-1.0
}

var (
	yearRe       = regexp.MustCompile(`\b(19[5-9]\d|20[0-3]\d)\b`)
	abbrYearRe   = regexp.MustCompile(`'(\d{2})\b`)
	engineRe     = regexp.MustCompile(`\b(\d\.\d)\s?l\b|\b([vi](?:4|6|8|10|12))\b`)
	drivetrainRe = regexp.MustCompile(`\b(awd|fwd|rwd|4wd|2wd|4x4|4x2)\b`)
)

var fillerWords = map[string]bool{
	"used": true, "for": true, "a": true, "an": true, "the": true,
	"my": true, "oem": true, "from": true, "of": true,
}

// Parse extracts a vehicle descriptor and part name from text. ok is false
// unless both a make and a model were found.
func Parse(text string) (d Descriptor, ok bool) {
	s := " " + strings.ToLower(strings.Join(strings.Fields(text), " ")) + " "

	if loc := yearRe.FindStringSubmatchIndex(s); loc != nil {
		d.Year, _ = strconv.Atoi(s[loc[2]:loc[3]])
		s = cut(s, loc[0], loc[1])
	} else if loc := abbrYearRe.FindStringSubmatchIndex(s); loc != nil {
		d.Year = expandYear(s[loc[2]:loc[3]])
		s = cut(s, loc[0], loc[1])
	}
	if loc := drivetrainRe.FindStringSubmatchIndex(s); loc != nil {
		d.Drivetrain = normalizeDrivetrain(s[loc[2]:loc[3]])
		s = cut(s, loc[0], loc[1])
	}
	if loc := engineRe.FindStringSubmatchIndex(s); loc != nil {
		if loc[2] >= 0 {
			d.Engine = s[loc[2]:loc[3]] + "L"
		} else {
			d.Engine = strings.ToUpper(s[loc[4]:loc[5]])
		}
		s = cut(s, loc[0], loc[1])
	}

	for _, k := range makeKeys {
		if i := wordIndex(s, k); i >= 0 {
			d.Make = makeByKey[k]
			s = cut(s, i, i+len(k))
			break
		}
	}
	if d.Make != "" {
		for _, m := range modelsByMake[d.Make] {
			if i := wordIndex(s, strings.ToLower(m)); i >= 0 {
				d.Model = m
				s = cut(s, i, i+len(m))
				break
			}
		}
	} else {
		d.Make, d.Model, s = findSoleModel(s)
	}

	var part []string
	for _, w := range strings.Fields(s) {
		w = strings.Trim(w, ".,;:!?\"()")
		if w != "" && !fillerWords[w] {
			part = append(part, w)
		}
	}
	d.Part = strings.Join(part, " ")

	switch {
	case d.Model != "" && d.Year > 0:
		d.Confidence = 0.95
	case d.Model != "":
		d.Confidence = 0.80
	case d.Make != "" && d.Year > 0:
		d.Confidence = 0.70
	case d.Make != "":
		d.Confidence = 0.60
	}
	return d, d.Make != "" && d.Model != ""
}

func findSoleModel(s string) (make_, model, rest string) {
	best, bestIdx := "", -1
	for m := range soleMake {
		if i := wordIndex(s, m); i >= 0 && len(m) > len(best) {
			best, bestIdx = m, i
		}
	}
	if bestIdx < 0 {
		return "", "", s
	}
	make_ = soleMake[best]
	return make_, CanonicalModel(make_, best), cut(s, bestIdx, bestIdx+len(best))
}

// wordIndex finds needle in s at word boundaries.
func wordIndex(s, needle string) int {
	for from := 0; ; {
		i := strings.Index(s[from:], needle)
		if i < 0 {
			return -1
		}
		i += from
		end := i + len(needle)
		if (i == 0 || !isWordByte(s[i-1])) && (end == len(s) || !isWordByte(s[end])) {
			return i
		}
		from = i + 1
	}
}

func cut(s string, from, to int) string {
	return s[:from] + " " + s[to:]
}

func isWordByte(b byte) bool {
	r := rune(b)
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func isNumeric(s string) bool {
	_, err := strconv.Atoi(s)
	return err == nil
}

func expandYear(yy string) int {
	n, _ := strconv.Atoi(yy)
	if n <= 30 {
		return 2000 + n
	}
	if n >= 50 {
		return 1900 + n
	}
	return 0
}

func normalizeDrivetrain(s string) string {
	switch s {
	case "4x4":
		return "4WD"
	case "4x2":
		return "2WD"
	}
	return strings.ToUpper(s)
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		if len(w) <= 3 && strings.ToUpper(w) == w {
			continue // acronyms such as GMC stay as given
		}
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}
