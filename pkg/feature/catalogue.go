package feature

import (
	"slices"
	"sort"

	"github.com/matzehuels/tilecraft/pkg/errors"
)

// Category groups used for listing.
const (
	GroupWater          = "water"
	GroupNatural        = "natural"
	GroupLandUse        = "landuse"
	GroupTransportation = "transportation"
	GroupBuilt          = "built"
	GroupAmenities      = "amenities"
	GroupRecreation     = "recreation"
	GroupInfrastructure = "infrastructure"
	GroupAdministrative = "administrative"
)

type tagTable map[string][]string

func define(name, group string, tags tagTable) Category {
	var rules []Rule
	for key, values := range tags {
		for _, v := range values {
			rules = append(rules, Rule{Key: key, Value: v})
		}
	}
	return NewCategory(name, group, rules...)
}

var anyValue = []string{Wildcard}

var builtin = []Category{
	// Water
	define("rivers", GroupWater, tagTable{"waterway": {"river", "stream", "canal", "drain", "ditch", "waterfall"}}),
	define("water", GroupWater, tagTable{"natural": {"water", "bay", "strait"}, "landuse": {"reservoir", "basin"}}),
	define("lakes", GroupWater, tagTable{"natural": {"water"}, "landuse": {"reservoir", "basin"}}),
	define("wetlands", GroupWater, tagTable{"natural": {"wetland", "marsh", "swamp"}}),
	define("waterways", GroupWater, tagTable{"waterway": {"river", "stream", "canal", "drain", "ditch", "rapids", "waterfall"}}),
	define("coastline", GroupWater, tagTable{"natural": {"coastline", "beach", "bay"}}),

	// Natural
	define("forest", GroupNatural, tagTable{"natural": {"wood", "forest", "scrub"}, "landuse": {"forest", "forestry"}}),
	define("woods", GroupNatural, tagTable{"natural": {"wood", "forest"}}),
	define("mountains", GroupNatural, tagTable{"natural": {"peak", "ridge", "saddle", "volcano"}}),
	define("peaks", GroupNatural, tagTable{"natural": {"peak", "volcano"}}),
	define("cliffs", GroupNatural, tagTable{"natural": {"cliff", "rock", "scree", "stone"}}),
	define("beaches", GroupNatural, tagTable{"natural": {"beach", "sand", "shingle"}}),
	define("glaciers", GroupNatural, tagTable{"natural": {"glacier"}}),
	define("volcanoes", GroupNatural, tagTable{"natural": {"volcano"}}),

	// Land use
	define("parks", GroupLandUse, tagTable{
		"leisure":  {"park", "nature_reserve", "recreation_ground", "garden"},
		"boundary": {"national_park", "protected_area"},
	}),
	define("farmland", GroupLandUse, tagTable{"landuse": {"farmland", "orchard", "vineyard", "plant_nursery", "greenhouse_horticulture"}}),
	define("residential", GroupLandUse, tagTable{"landuse": {"residential"}}),
	define("commercial", GroupLandUse, tagTable{"landuse": {"commercial", "retail"}}),
	define("industrial", GroupLandUse, tagTable{"landuse": {"industrial", "port", "quarry"}}),
	define("military", GroupLandUse, tagTable{"landuse": {"military"}, "military": anyValue}),
	define("cemeteries", GroupLandUse, tagTable{"landuse": {"cemetery"}, "amenity": {"grave_yard"}}),

	// Transportation
	define("roads", GroupTransportation, tagTable{"highway": {
		"motorway", "trunk", "primary", "secondary", "tertiary",
		"unclassified", "residential", "service", "track",
	}}),
	define("highways", GroupTransportation, tagTable{"highway": {"motorway", "motorway_link", "trunk", "trunk_link"}}),
	define("railways", GroupTransportation, tagTable{"railway": {"rail", "tram", "light_rail", "subway", "monorail", "narrow_gauge", "abandoned"}}),
	define("airports", GroupTransportation, tagTable{"aeroway": {"aerodrome", "runway", "taxiway", "terminal", "gate", "apron"}}),
	define("bridges", GroupTransportation, tagTable{"bridge": {"yes"}, "man_made": {"bridge"}}),
	define("tunnels", GroupTransportation, tagTable{"tunnel": {"yes"}, "man_made": {"tunnel"}}),
	define("paths", GroupTransportation, tagTable{"highway": {"path", "footway", "cycleway", "bridleway", "steps"}}),
	define("cycleways", GroupTransportation, tagTable{"highway": {"cycleway"}, "cycleway": anyValue}),

	// Built environment
	define("buildings", GroupBuilt, tagTable{"building": anyValue}),
	define("churches", GroupBuilt, tagTable{"building": {"church", "cathedral", "chapel"}, "amenity": {"place_of_worship"}}),
	define("schools", GroupBuilt, tagTable{"building": {"school"}, "amenity": {"school", "kindergarten", "university", "college"}}),
	define("hospitals", GroupBuilt, tagTable{"building": {"hospital"}, "amenity": {"hospital", "clinic", "doctors"}}),
	define("universities", GroupBuilt, tagTable{"building": {"university", "college"}, "amenity": {"university", "college"}}),

	// Amenities
	define("restaurants", GroupAmenities, tagTable{"amenity": {"restaurant", "fast_food", "cafe", "bar", "pub", "food_court"}}),
	define("shops", GroupAmenities, tagTable{"shop": anyValue, "building": {"retail", "shop"}, "amenity": {"marketplace"}}),
	define("hotels", GroupAmenities, tagTable{"tourism": {"hotel", "motel", "hostel", "guest_house"}, "building": {"hotel"}}),
	define("banks", GroupAmenities, tagTable{"amenity": {"bank", "atm"}, "building": {"bank"}}),
	define("fuel_stations", GroupAmenities, tagTable{"amenity": {"fuel"}, "building": {"fuel"}}),
	define("post_offices", GroupAmenities, tagTable{"amenity": {"post_office"}, "building": {"post_office"}}),

	// Recreation
	define("playgrounds", GroupRecreation, tagTable{"leisure": {"playground"}}),
	define("sports_fields", GroupRecreation, tagTable{"leisure": {"sports_centre", "stadium", "pitch"}, "sport": anyValue}),
	define("golf_courses", GroupRecreation, tagTable{"leisure": {"golf_course"}, "sport": {"golf"}}),
	define("stadiums", GroupRecreation, tagTable{"leisure": {"stadium"}, "building": {"stadium"}}),
	define("swimming_pools", GroupRecreation, tagTable{"leisure": {"swimming_pool"}, "amenity": {"swimming_pool"}}),

	// Infrastructure
	define("power_lines", GroupInfrastructure, tagTable{
		"power":    {"line", "cable", "transmission", "substation", "tower"},
		"man_made": {"transmission_line"},
	}),
	define("wind_turbines", GroupInfrastructure, tagTable{"generator:source": {"wind"}, "man_made": {"wind_turbine"}}),
	define("solar_farms", GroupInfrastructure, tagTable{"generator:source": {"solar"}, "landuse": {"industrial"}, "man_made": {"solar_panel"}}),
	define("dams", GroupInfrastructure, tagTable{"waterway": {"dam"}, "man_made": {"dam"}}),
	define("barriers", GroupInfrastructure, tagTable{"barrier": {"wall", "fence", "hedge", "retaining_wall", "city_wall"}}),

	// Administrative
	define("boundaries", GroupAdministrative, tagTable{
		"boundary":    {"administrative", "political", "postal_code"},
		"admin_level": anyValue,
		"place":       {"state", "county", "city", "town", "village"},
		"tiger:cfcc":  anyValue,
	}),
	define("protected_areas", GroupAdministrative, tagTable{"boundary": {"protected_area", "national_park"}, "leisure": {"nature_reserve"}}),
}

// Builtin returns all built-in categories in catalogue order.
func Builtin() []Category {
	return slices.Clone(builtin)
}

// Lookup returns a built-in category by name.
func Lookup(name string) (Category, bool) {
	for _, c := range builtin {
		if c.Name == name {
			return c, true
		}
	}
	return Category{}, false
}

// Names returns the built-in category names in catalogue order.
func Names() []string {
	names := make([]string, len(builtin))
	for i, c := range builtin {
		names[i] = c.Name
	}
	return names
}

// Resolve turns requested category names into categories.
//
// Each entry of custom maps a category name to extra rules written as
// "key=value" or "key". Custom rules extend a built-in category of the same
// name, or define a new category when the name is not built in. The result
// is sorted by name and free of duplicates.
func Resolve(names []string, custom map[string][]string) ([]Category, error) {
	if len(names) == 0 {
		return nil, errors.New(errors.ErrCodeFeatureExtraction, "no feature categories requested")
	}

	seen := make(map[string]bool, len(names))
	var out []Category
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true

		if err := errors.ValidateCategoryName(name); err != nil {
			return nil, err
		}

		c, ok := Lookup(name)
		if !ok {
			c = Category{Name: name, Group: "custom"}
		}

		var extra []Rule
		for _, s := range custom[name] {
			r, err := ParseRule(s)
			if err != nil {
				return nil, errors.Wrap(errors.ErrCodeInvalidCategory, err, "custom tags for %q", name)
			}
			extra = append(extra, r)
		}
		c = c.WithRules(extra...)

		if err := c.Validate(); err != nil {
			if !ok {
				return nil, errors.New(errors.ErrCodeInvalidCategory, "unknown category %q", name)
			}
			return nil, err
		}
		out = append(out, c)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
