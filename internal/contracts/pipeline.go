package contracts

// Pipeline Stage 정의 (SSOT)
// 모든 로그, run summary, DB row에서 이 상수를 사용해야 함
//
// 티커 하나의 파이프라인 흐름:
//   INGEST → NORMALIZE → TECHNICALS → ASSEMBLE ‖ LABEL → DISTILL → EXPORT
//
// ASSEMBLE과 LABEL은 서로의 출력을 읽지 않으므로 동시에 실행 가능.

// Stage represents a per-ticker pipeline stage
type Stage string

const (
	// StageIngest 외부 provider 수집 (fetcher)
	// 위치: internal/fetcher/
	StageIngest Stage = "INGEST"

	// StageNormalize 뉴스 정규화/중복제거/버킷/관련성
	// 위치: internal/normalize/
	StageNormalize Stage = "NORMALIZE"

	// StageTechnicals 가격 윈도우 지표 계산
	// 위치: internal/technicals/
	StageTechnicals Stage = "TECHNICALS"

	// StageAssemble as-of 샘플 조립 (variation 포함)
	// 위치: internal/assembler/
	StageAssemble Stage = "ASSEMBLE"

	// StageLabel composite signal 라벨 생성 및 날짜 조인
	// 위치: internal/labels/
	StageLabel Stage = "LABEL"

	// StageDistill LLM thesis 증류
	// 위치: internal/distill/
	StageDistill Stage = "DISTILL"

	// StageExport 자산별 스냅샷 내보내기
	// 위치: internal/export/
	StageExport Stage = "EXPORT"
)

// String returns the stage name
func (s Stage) String() string {
	return string(s)
}

// Description returns Korean description of the stage
func (s Stage) Description() string {
	switch s {
	case StageIngest:
		return "원천 데이터 수집"
	case StageNormalize:
		return "뉴스 정규화/중복제거"
	case StageTechnicals:
		return "기술적 지표 계산"
	case StageAssemble:
		return "샘플 조립"
	case StageLabel:
		return "라벨 생성"
	case StageDistill:
		return "Thesis 증류"
	case StageExport:
		return "스냅샷 내보내기"
	default:
		return "알 수 없음"
	}
}

// AllStages returns all pipeline stages in order
func AllStages() []Stage {
	return []Stage{
		StageIngest,
		StageNormalize,
		StageTechnicals,
		StageAssemble,
		StageLabel,
		StageDistill,
		StageExport,
	}
}

// IsValidStage checks if a stage string is valid
func IsValidStage(s string) bool {
	for _, stage := range AllStages() {
		if string(stage) == s {
			return true
		}
	}
	return false
}

// StageResult records one stage of one ticker
type StageResult struct {
	Stage       Stage  `json:"stage"`
	Success     bool   `json:"success"`
	OutputCount int    `json:"output_count"`
	DurationMs  int64  `json:"duration_ms"`
	Error       string `json:"error,omitempty"`
}
