package assistant

import "github.com/kalambet/docent/internal/intent"

// HelpPrompt answers an empty message.
const HelpPrompt = "무엇을 도와드릴까요? 찾으시는 문서나 궁금한 점을 입력해 주세요."

// HelpText is the local answer when nothing matched.
const HelpText = `원하시는 결과를 찾지 못했습니다. 이렇게 물어보세요:
• "계약서 어디 있어?" - 문서 보관 위치
• "전체 문서 수는?" - 전체 문서 수
• "부서별 문서 현황" - 부서별 통계
• "카테고리 목록" - 카테고리와 보관 위치
• "오늘 올린 문서" - 날짜별 문서 검색
• "만료 임박 문서" - 보관 기한 확인
• "공유된 문서" - 공유 현황
• "NFC 태그 현황" - NFC 등록 상태`

// ErrorText answers when the request could not be processed at all.
const ErrorText = "죄송합니다. 요청을 처리하는 중 문제가 발생했습니다. 잠시 후 다시 시도해 주세요."

func reportUnavailable(kind intent.Kind) string {
	name := "요청하신"
	switch kind {
	case intent.KindExpiry:
		name = "보관 기한"
	case intent.KindShared:
		name = "공유 문서"
	case intent.KindNFC:
		name = "NFC 태그"
	}
	return name + " 정보를 불러오지 못했습니다. 잠시 후 다시 시도해 주세요."
}
