package backend

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

type NetworkMetrics struct {
	DNS         time.Duration
	ConnWait    time.Duration
	TCP         time.Duration
	TLS         time.Duration
	ReqHeaders  time.Duration
	ReqBody     time.Duration
	TTFB        time.Duration
	Download    time.Duration
	Total       time.Duration
	ConnReused  bool
	TLSProtocol string
}

func (m *NetworkMetrics) Sum() time.Duration {
	return m.ConnWait + m.DNS + m.TCP + m.TLS + m.ReqHeaders + m.ReqBody + m.TTFB + m.Download
}

// Number decodes a JSON number or a numeric string. Model-generated
// payloads mix both; anything unparseable reads as zero.
type Number float64

func (n *Number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*n = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(strings.TrimRight(strings.TrimSpace(s), "gmkcalKCAL% "))
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			*n = 0
			return nil
		}
		*n = Number(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*n = Number(f)
	return nil
}

// Text decodes a JSON string or number into a string.
type Text string

func (t *Text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = Text(s)
		return nil
	}
	if string(b) == "null" {
		*t = ""
		return nil
	}
	*t = Text(b)
	return nil
}

type NutritionalInfo struct {
	Calories      Number `json:"calories"`
	Protein       Number `json:"protein"`
	Carbohydrates Number `json:"carbohydrates"`
	Fat           Number `json:"fat"`
	Fiber         Number `json:"fiber"`
	Sugar         Number `json:"sugar"`
	Sodium        Number `json:"sodium"`
}

// Empty reports whether every nutrient is zero.
func (n NutritionalInfo) Empty() bool {
	return n == NutritionalInfo{}
}

// LabelResult is the OCR scan of a nutrition label.
type LabelResult struct {
	Name            string          `json:"name"`
	Confidence      Number          `json:"confidence"`
	NutritionalInfo NutritionalInfo `json:"nutritional_info"`
	HealthScore     Number          `json:"health_score"`
	ProcessingLevel Text            `json:"processing_level"`
	Recommendations []string        `json:"recommendations"`
}

// Sufficient reports whether the result identifies a product and read at
// least one nutrient.
func (r *LabelResult) Sufficient() bool {
	return r != nil && strings.TrimSpace(r.Name) != "" && !r.NutritionalInfo.Empty()
}

// AIResult is the model analysis of a product photo.
type AIResult struct {
	LabelResult
	FoodName       string   `json:"food_name,omitempty"`
	FoodCategory   string   `json:"food_category"`
	Ingredients    []string `json:"ingredients"`
	Allergens      []string `json:"allergens"`
	HealthAnalysis string   `json:"health_analysis"`
}

// Profile is the demographic and intake input to disease prediction. Field
// names follow the training dataset's columns.
type Profile struct {
	Age                int     `json:"Ages,omitempty"`
	Gender             string  `json:"Gender,omitempty"`
	HeightCm           float64 `json:"Height,omitempty"`
	WeightKg           float64 `json:"Weight,omitempty"`
	ActivityLevel      string  `json:"Activity Level,omitempty"`
	DietaryPreference  string  `json:"Dietary Preference,omitempty"`
	DailyCalorieTarget float64 `json:"Daily Calorie Target,omitempty"`
	Calories           float64 `json:"Calories,omitempty"`
	Protein            float64 `json:"Protein,omitempty"`
	Carbohydrates      float64 `json:"Carbohydrates,omitempty"`
	Fat                float64 `json:"Fat,omitempty"`
	Fiber              float64 `json:"Fiber,omitempty"`
	Sugar              float64 `json:"Sugar,omitempty"`
	Sodium             float64 `json:"Sodium,omitempty"`
}

type DiseasePrediction struct {
	PredictedDisease string             `json:"predicted_disease"`
	Confidence       Number             `json:"confidence"`
	RiskLevel        string             `json:"risk_level"`
	AllProbabilities map[string]float64 `json:"all_probabilities"`
	Recommendations  []string           `json:"recommendations"`
	BMIAnalysis      json.RawMessage    `json:"bmi_analysis,omitempty"`
	CalorieBalance   json.RawMessage    `json:"calorie_balance,omitempty"`
	NutrientBalance  json.RawMessage    `json:"nutrient_balance,omitempty"`
	HealthScore      *Number            `json:"health_score,omitempty"`
}

type FoodRecord struct {
	ID                 int    `json:"id"`
	Name               string `json:"name"`
	Category           string `json:"category"`
	CaloriesPer100g    Number `json:"calories_per_100g"`
	ProcessingLevel    Text   `json:"processing_level"`
	NutritionalDensity Text   `json:"nutritional_density"`
}

type FoodAnalysisRequest struct {
	FoodName        string           `json:"food_name,omitempty"`
	NutritionalData *NutritionalInfo `json:"nutritional_data,omitempty"`
}

type FoodAnalysis struct {
	FoodName         string             `json:"food_name"`
	PredictedDisease string             `json:"predicted_disease"`
	Confidence       Number             `json:"confidence"`
	AllProbabilities map[string]float64 `json:"all_probabilities"`
}

// HealthStatus covers both generations of the health endpoint.
type HealthStatus struct {
	Status       string `json:"status"`
	Timestamp    string `json:"timestamp"`
	DataLoaded   bool   `json:"data_loaded"`
	ModelLoaded  bool   `json:"model_loaded"`
	FoodDBLoaded bool   `json:"food_db_loaded"`
	ModelsLoaded bool   `json:"models_loaded"`
}

func (h *HealthStatus) Healthy() bool { return h.Status == "healthy" || h.Status == "ok" }
func (h *HealthStatus) Data() bool    { return h.DataLoaded || h.FoodDBLoaded }
func (h *HealthStatus) Model() bool   { return h.ModelLoaded || h.ModelsLoaded }
