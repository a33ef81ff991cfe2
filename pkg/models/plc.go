package models

import "time"

// PLC is a programmable logic controller registered against the plant
// hierarchy. ProgramID maps it to the ingested program currently in use.
type PLC struct {
	ID                string     `db:"id"                  json:"id"`
	PLCID             string     `db:"plc_id"              json:"plc_id"`
	PLCName           string     `db:"plc_name"            json:"plc_name"`
	Plant             *string    `db:"plant"               json:"plant"`
	Process           *string    `db:"process"             json:"process"`
	Line              *string    `db:"line"                json:"line"`
	EquipmentGroup    *string    `db:"equipment_group"     json:"equipment_group"`
	Unit              *string    `db:"unit"                json:"unit"`
	ProgramID         *string    `db:"program_id"          json:"program_id"`
	PreviousProgramID *string    `db:"previous_program_id" json:"previous_program_id"`
	IsActive          bool       `db:"is_active"           json:"is_active"`
	CreateDT          time.Time  `db:"create_dt"           json:"create_dt"`
	CreateUser        string     `db:"create_user"         json:"create_user"`
	UpdateDT          *time.Time `db:"update_dt"           json:"update_dt,omitempty"`
}

// ProgramIDChanged reports whether the PLC was remapped to a different program.
func (p *PLC) ProgramIDChanged() bool {
	if p.PreviousProgramID == nil {
		return false
	}
	if p.ProgramID == nil {
		return true
	}
	return *p.PreviousProgramID != *p.ProgramID
}

// PLCTreeRow is one joined row of PLC and master data used to build the tree.
type PLCTreeRow struct {
	PlantName   *string
	ProcessName *string
	LineName    *string
	EqGrpName   *string
	Unit        *string
	PLCID       string
	CreateDT    time.Time
	CreateUser  string
}
