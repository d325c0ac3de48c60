// Package solar defines the canonical schema shared by the irradiance tools.
// Column names here are the vocabulary every input is renamed into, and the
// record types carry the ch/parquet tags used by the storage layers.
package solar

// Canonical column names.
const (
	ColDate       = "Date"
	ColYear       = "Year"
	ColMonth      = "Month"
	ColDay        = "Day"
	ColIrradiance = "Irradiance (kWh/m^2/day)"
	ColGeneration = "Daily_Generation"
	ColRatio      = "Generation_to_Irradiance_Ratio"
	ColValid      = "valid"
	ColMeanTemp   = "mean_temp_c"
	ColTime       = "time"
	ColKWh        = "kWh"
)

// NASA POWER raw columns (daily point API, CSV format).
const (
	PowerYear       = "YEAR"
	PowerMonth      = "MO"
	PowerDay        = "DY"
	PowerIrradiance = "ALLSKY_SFC_SW_DWN"

	// PowerHeader marks the first data line after the response preamble.
	PowerHeader = "YEAR,MO,DY,ALLSKY_SFC_SW_DWN"

	// PowerFillValue marks days the model could not compute.
	PowerFillValue = -999.0
)

// Environment and Climate Change Canada daily climate columns.
const (
	ClimateDateTime = "Date/Time"
	ClimateMeanTemp = "Mean Temp (°C)"
)

// PowerRename maps NASA POWER columns onto the canonical vocabulary.
var PowerRename = map[string]string{
	PowerYear:       ColYear,
	PowerMonth:      ColMonth,
	PowerDay:        ColDay,
	PowerIrradiance: ColIrradiance,
}

// Reading is one reconciled day as persisted to parquet and ClickHouse.
type Reading struct {
	Date       string  `ch:"date" parquet:"date"`
	Generation float64 `ch:"generation_kwh" parquet:"generation_kwh"`
	Irradiance float64 `ch:"irradiance_kwh_m2" parquet:"irradiance_kwh_m2"`
	Ratio      float64 `ch:"ratio" parquet:"ratio"`
	Valid      bool    `ch:"valid" parquet:"valid"`
}

// ReconciledDDL creates the ClickHouse table written by chstore.Sink.
const ReconciledDDL = `CREATE TABLE IF NOT EXISTS %s (
    date              Date32,
    generation_kwh    Float64,
    irradiance_kwh_m2 Float64,
    ratio             Float64,
    valid             Bool,
    site              String,
    updated_at        DateTime DEFAULT now()
) ENGINE = ReplacingMergeTree(updated_at)
ORDER BY (site, date)`
