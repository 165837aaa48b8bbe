// Package models holds the record types produced by the parser and written by
// the loader. Records are built once per parsed line and never mutated.
package models

import "fmt"

// DatasetKind identifies one of the published change datasets.
type DatasetKind string

const (
	RoadNameChange DatasetKind = "road_name_change"
	DongDetail     DatasetKind = "dong_detail"
)

// Kinds lists the known datasets in processing order.
var Kinds = []DatasetKind{RoadNameChange, DongDetail}

// ParseKind validates a dataset kind given on the command line or in config.
func ParseKind(s string) (DatasetKind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown dataset kind %q", s)
}

// Record is a parsed row ready for staging. Fields returns the source columns
// in staging order; nil entries are absent values.
type Record interface {
	Kind() DatasetKind
	Fields() []*string
}

// StdDateColumn is the processing date stamped on every staged row.
const StdDateColumn = "std_date"

// Columns returns the staging column names for a dataset, excluding std_date.
func Columns(kind DatasetKind) []string {
	switch kind {
	case RoadNameChange:
		return addressChangeColumns
	case DongDetail:
		return dongDetailColumns
	}
	return nil
}

// FieldCount is the number of '|' separated tokens a source line must carry.
func FieldCount(kind DatasetKind) int {
	return len(Columns(kind))
}

// RequiredFields returns the token indices that must be non-empty after
// trimming for a line to be accepted.
func RequiredFields(kind DatasetKind) []int {
	switch kind {
	case RoadNameChange:
		return []int{0, 1, 9, 11, 12, 13}
	case DongDetail:
		return []int{0, 1, 2, 6}
	}
	return nil
}

var addressChangeColumns = []string{
	"road_nm_ctl_no", "lgdong_osdcd", "sido_nm", "sigungu_nm", "epmyndn_nm", "ri_nm",
	"muntn_yn", "upper_hsno", "sub_hsno", "road_nm_cd", "road_nm", "und_grd_yn",
	"bld_upper_no", "bld_sub_no", "addong_osdcd", "addong_epmyndn_nm", "zip_no",
	"bef_road_nm_addr", "apply_bgn_date", "cmm_bld_yn", "mv_rsn_cd", "inst_bld_nm",
	"bld_nm", "note",
}

var dongDetailColumns = []string{
	"sido_cd", "sigungu_cd", "emd_cd", "ri_cd", "admin_type", "dong_nm",
	"bld_main_no", "bld_sub_no", "dong", "ho", "floor_no", "note",
}

// AddressChangeRecord is one line of a road-name address change file (_mst.txt).
type AddressChangeRecord struct {
	RoadMgmtNo        string  `csv:"road_nm_ctl_no"`
	LegalDongCode     string  `csv:"lgdong_osdcd"`
	SidoName          *string `csv:"sido_nm,omitempty"`
	SigunguName       *string `csv:"sigungu_nm,omitempty"`
	EmdName           *string `csv:"epmyndn_nm,omitempty"`
	RiName            *string `csv:"ri_nm,omitempty"`
	MountainFlag      *string `csv:"muntn_yn,omitempty"`
	LotMainNo         *string `csv:"upper_hsno,omitempty"`
	LotSubNo          *string `csv:"sub_hsno,omitempty"`
	RoadCode          string  `csv:"road_nm_cd"`
	RoadName          *string `csv:"road_nm,omitempty"`
	UndergroundFlag   string  `csv:"und_grd_yn"`
	BldMainNo         string  `csv:"bld_upper_no"`
	BldSubNo          string  `csv:"bld_sub_no"`
	AdmDongCode       *string `csv:"addong_osdcd,omitempty"`
	AdmDongName       *string `csv:"addong_epmyndn_nm,omitempty"`
	PostalCode        *string `csv:"zip_no,omitempty"`
	PriorRoadAddress  *string `csv:"bef_road_nm_addr,omitempty"`
	EffectiveDate     *string `csv:"apply_bgn_date,omitempty"`
	SharedHousingFlag *string `csv:"cmm_bld_yn,omitempty"`
	MoveReasonCode    *string `csv:"mv_rsn_cd,omitempty"`
	RegisteredBldName *string `csv:"inst_bld_nm,omitempty"`
	BldName           *string `csv:"bld_nm,omitempty"`
	Note              *string `csv:"note,omitempty"`
}

func (r AddressChangeRecord) Kind() DatasetKind { return RoadNameChange }

func (r AddressChangeRecord) Fields() []*string {
	return []*string{
		&r.RoadMgmtNo, &r.LegalDongCode, r.SidoName, r.SigunguName, r.EmdName, r.RiName,
		r.MountainFlag, r.LotMainNo, r.LotSubNo, &r.RoadCode, r.RoadName, &r.UndergroundFlag,
		&r.BldMainNo, &r.BldSubNo, r.AdmDongCode, r.AdmDongName, r.PostalCode,
		r.PriorRoadAddress, r.EffectiveDate, r.SharedHousingFlag, r.MoveReasonCode,
		r.RegisteredBldName, r.BldName, r.Note,
	}
}

// DongDetailRecord is one line of a detailed-address dong file (_dong.txt).
type DongDetailRecord struct {
	SidoCode    string  `csv:"sido_cd"`
	SigunguCode string  `csv:"sigungu_cd"`
	EmdCode     string  `csv:"emd_cd"`
	RiCode      *string `csv:"ri_cd,omitempty"`
	AdminType   *string `csv:"admin_type,omitempty"`
	DongName    *string `csv:"dong_nm,omitempty"`
	BldMainNo   string  `csv:"bld_main_no"`
	BldSubNo    *string `csv:"bld_sub_no,omitempty"`
	Dong        *string `csv:"dong,omitempty"`
	Ho          *string `csv:"ho,omitempty"`
	FloorNo     *string `csv:"floor_no,omitempty"`
	Note        *string `csv:"note,omitempty"`
}

func (r DongDetailRecord) Kind() DatasetKind { return DongDetail }

func (r DongDetailRecord) Fields() []*string {
	return []*string{
		&r.SidoCode, &r.SigunguCode, &r.EmdCode, r.RiCode, r.AdminType, r.DongName,
		&r.BldMainNo, r.BldSubNo, r.Dong, r.Ho, r.FloorNo, r.Note,
	}
}

// FromFields rebuilds a record from staged column values in Columns order.
// Required columns that come back NULL are returned as empty strings.
func FromFields(kind DatasetKind, f []*string) (Record, error) {
	if len(f) != FieldCount(kind) {
		return nil, fmt.Errorf("%s: expected %d fields, got %d", kind, FieldCount(kind), len(f))
	}
	switch kind {
	case RoadNameChange:
		return AddressChangeRecord{
			RoadMgmtNo: deref(f[0]), LegalDongCode: deref(f[1]),
			SidoName: f[2], SigunguName: f[3], EmdName: f[4], RiName: f[5],
			MountainFlag: f[6], LotMainNo: f[7], LotSubNo: f[8],
			RoadCode: deref(f[9]), RoadName: f[10], UndergroundFlag: deref(f[11]),
			BldMainNo: deref(f[12]), BldSubNo: deref(f[13]),
			AdmDongCode: f[14], AdmDongName: f[15], PostalCode: f[16],
			PriorRoadAddress: f[17], EffectiveDate: f[18], SharedHousingFlag: f[19],
			MoveReasonCode: f[20], RegisteredBldName: f[21], BldName: f[22], Note: f[23],
		}, nil
	case DongDetail:
		return DongDetailRecord{
			SidoCode: deref(f[0]), SigunguCode: deref(f[1]), EmdCode: deref(f[2]),
			RiCode: f[3], AdminType: f[4], DongName: f[5], BldMainNo: deref(f[6]),
			BldSubNo: f[7], Dong: f[8], Ho: f[9], FloorNo: f[10], Note: f[11],
		}, nil
	}
	return nil, fmt.Errorf("unknown dataset kind %q", kind)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
