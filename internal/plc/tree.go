// Package plc serves the read side of the PLC master data: the
// plant hierarchy tree and single PLC lookups.
package plc

import (
	"time"

	"github.com/c00lpeace/project-template-final/pkg/models"
)

// Placeholder names for hierarchy levels that have no master row.
const (
	UnknownPlant     = "Unknown Plant"
	UnknownProcess   = "Unknown Process"
	UnknownLine      = "Unknown Line"
	UnknownEquipment = "Unknown Equipment"
	UnknownUnit      = "Unknown Unit"
)

type PlantNode struct {
	Plant     string        `json:"plt"`
	Processes []ProcessNode `json:"procList"`
}

type ProcessNode struct {
	Process string     `json:"proc"`
	Lines   []LineNode `json:"lineList"`
}

type LineNode struct {
	Line   string          `json:"line"`
	Groups []EquipmentNode `json:"eqGrpList"`
}

type EquipmentNode struct {
	Group string     `json:"eqGrp"`
	Units []UnitNode `json:"unitList"`
}

type UnitNode struct {
	Unit string     `json:"unit"`
	Info []TreeInfo `json:"info"`
}

// TreeInfo is the leaf of the tree.
type TreeInfo struct {
	PLCID    string    `json:"plc_id"`
	CreateDT time.Time `json:"create_dt"`
	User     string    `json:"user"`
}

// BuildTree groups rows into Plant > Process > Line > EquipmentGroup > Unit.
// Every level keeps the order in which its names first appear in rows.
func BuildTree(rows []models.PLCTreeRow) []PlantNode {
	plants := []PlantNode{}
	plantIdx := map[string]int{}
	for _, row := range rows {
		plantName := nameOr(row.PlantName, UnknownPlant)
		pi, ok := plantIdx[plantName]
		if !ok {
			pi = len(plants)
			plantIdx[plantName] = pi
			plants = append(plants, PlantNode{Plant: plantName, Processes: []ProcessNode{}})
		}
		plant := &plants[pi]

		proc := findOrAdd(&plant.Processes, nameOr(row.ProcessName, UnknownProcess),
			func(p *ProcessNode) string { return p.Process },
			func(n string) ProcessNode { return ProcessNode{Process: n, Lines: []LineNode{}} })
		line := findOrAdd(&proc.Lines, nameOr(row.LineName, UnknownLine),
			func(l *LineNode) string { return l.Line },
			func(n string) LineNode { return LineNode{Line: n, Groups: []EquipmentNode{}} })
		group := findOrAdd(&line.Groups, nameOr(row.EqGrpName, UnknownEquipment),
			func(g *EquipmentNode) string { return g.Group },
			func(n string) EquipmentNode { return EquipmentNode{Group: n, Units: []UnitNode{}} })
		unit := findOrAdd(&group.Units, nameOr(row.Unit, UnknownUnit),
			func(u *UnitNode) string { return u.Unit },
			func(n string) UnitNode { return UnitNode{Unit: n, Info: []TreeInfo{}} })

		unit.Info = append(unit.Info, TreeInfo{
			PLCID:    row.PLCID,
			CreateDT: row.CreateDT,
			User:     row.CreateUser,
		})
	}
	return plants
}

// findOrAdd returns the element of *list named name, appending one built by
// mk when none exists. Levels below plant are small, so a scan is enough.
func findOrAdd[T any](list *[]T, name string, key func(*T) string, mk func(string) T) *T {
	for i := range *list {
		if key(&(*list)[i]) == name {
			return &(*list)[i]
		}
	}
	*list = append(*list, mk(name))
	return &(*list)[len(*list)-1]
}

func nameOr(s *string, fallback string) string {
	if s == nil || *s == "" {
		return fallback
	}
	return *s
}
