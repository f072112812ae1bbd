package composition

// Location point types.
const (
	PointRawMaterial  = "raw_material"
	PointComponent    = "component"
	PointFinalProduct = "final_product"
)

// Coordinates is a latitude/longitude pair.
type Coordinates struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
}

// Location is one point on a supply-chain map.
type Location struct {
	Coordinates
	Name          string       `json:"name"`
	Type          string       `json:"type"`
	TokenID       uint64       `json:"token_id"`
	Quantity      int64        `json:"quantity"`
	CarbonShareKg int64        `json:"carbon_share_kg"`
	Parent        *Coordinates `json:"parent_location,omitempty"`
}

type locationKey struct {
	lat, lng float64
	name     string
}

type frame struct {
	node   *Node
	parent *Coordinates
}

// Locations flattens a resolved tree into map points, depth first in declared
// component order. Nodes whose plant has no coordinates contribute no point,
// and their children get no parent link. Points with the same coordinates and
// name are reported once, at their first occurrence.
func Locations(root *Node) []Location {
	if root == nil {
		return nil
	}

	var (
		points []Location
		seen   = make(map[locationKey]struct{})
		stack  = []frame{{node: root}}
	)
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		here := coordinatesOf(cur.node)
		if here != nil {
			point := Location{
				Coordinates:   *here,
				Name:          pointName(cur.node),
				Type:          pointType(cur.node),
				TokenID:       cur.node.TokenID,
				Quantity:      cur.node.Quantity,
				CarbonShareKg: cur.node.CarbonShareKg,
				Parent:        cur.parent,
			}
			key := locationKey{lat: here.Latitude, lng: here.Longitude, name: point.Name}
			if _, dup := seen[key]; !dup {
				seen[key] = struct{}{}
				points = append(points, point)
			}
		}

		for i := len(cur.node.Children) - 1; i >= 0; i-- {
			stack = append(stack, frame{node: cur.node.Children[i], parent: here})
		}
	}
	return points
}

func coordinatesOf(n *Node) *Coordinates {
	if n.Plant == nil || !n.Plant.Location.HasCoordinates() {
		return nil
	}
	return &Coordinates{Latitude: *n.Plant.Location.Latitude, Longitude: *n.Plant.Location.Longitude}
}

func pointName(n *Node) string {
	plant, product := "", ""
	if n.Plant != nil {
		plant = n.Plant.Name
	}
	if n.Template != nil {
		product = n.Template.Name
	}
	return plant + " - " + product
}

func pointType(n *Node) string {
	switch {
	case n.Template != nil && n.Template.IsRawMaterial:
		return PointRawMaterial
	case n.Depth == 0:
		return PointFinalProduct
	default:
		return PointComponent
	}
}
