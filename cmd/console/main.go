// QueryTalk Console — a conversational Text2SQL client.
//
// The console turns natural-language questions into SQL via the
// backend's /api/convert endpoint and exposes:
//   - the preprocessing trace viewer (normalization, entities,
//     clauses, reasoning, SQL pattern mappings)
//   - schema-metadata document management (upload / apply / delete)
//   - per-domain RAG reference-file management and statistics
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/querytalk/querytalk/internal/apiclient"
	"github.com/querytalk/querytalk/internal/config"
	"github.com/querytalk/querytalk/internal/conversation"
	"github.com/querytalk/querytalk/internal/knowledge"
	"github.com/querytalk/querytalk/internal/metadata"
	"github.com/querytalk/querytalk/internal/shell"
	"github.com/querytalk/querytalk/internal/telemetry"
	"github.com/querytalk/querytalk/internal/traceview"
	"github.com/querytalk/querytalk/pkg/models"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg := config.Load()

	shutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize telemetry")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer shutdown(ctx)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		log.Info().Msg("Shutting down...")
		cancel()
		os.Exit(0)
	}()

	client := apiclient.New(cfg.APIBase)
	conv := conversation.New(client)
	metaStore := metadata.NewStore(client)
	knowStore := knowledge.NewStore(client, cfg.DownloadDir)

	stdin := bufio.NewScanner(os.Stdin)
	confirm := func(prompt string) bool {
		fmt.Printf("%s [y/N] ", prompt)
		if !stdin.Scan() {
			return false
		}
		answer := strings.ToLower(strings.TrimSpace(stdin.Text()))
		return answer == "y" || answer == "yes"
	}

	presenter := shell.New(conv, metaStore, knowStore, client, os.Stdout, confirm)

	// Initial loads: the document listing on mount, and a schema
	// prefetch that degrades silently when the backend is down.
	if err := metaStore.RefreshDocumentList(ctx); err != nil {
		log.Warn().Err(err).Msg("initial metadata list load failed")
	}
	if err := metaStore.RefreshSchema(ctx); err != nil {
		log.Warn().Err(err).Msg("initial schema load failed")
	}

	log.Info().Str("backend", cfg.APIBase).Str("version", cfg.Version).Msg("QueryTalk console ready")
	for _, msg := range conv.Transcript() {
		fmt.Printf("[봇] %s\n", msg.Text)
	}
	fmt.Println(`명령어는 /help, 질문은 그대로 입력하세요.`)

	for {
		fmt.Print("> ")
		if !stdin.Scan() {
			return
		}
		line := strings.TrimSpace(stdin.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			presenter.Ask(ctx, line)
			continue
		}
		if quit := dispatch(ctx, presenter, cfg, line); quit {
			return
		}
	}
}

// dispatch routes a slash command to the presenter. Returns true when
// the console should exit.
func dispatch(ctx context.Context, p *shell.Presenter, cfg *config.Config, line string) bool {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/quit", "/exit":
		return true

	case "/help":
		printHelp()

	case "/domain":
		if len(args) == 0 {
			fmt.Println("사용법: /domain <personal_credit|corporate_credit|policy_regulation|all>")
			break
		}
		domain := models.Domain(args[0])
		if args[0] == "all" {
			domain = models.DomainAll
		}
		if err := p.SetDomainFilter(domain); err != nil {
			fmt.Println("유효하지 않은 도메인입니다.")
		}

	case "/schema":
		p.ToggleSchemaPanel(ctx)

	case "/meta":
		if len(args) == 0 {
			p.OpenMetadataDialog(ctx)
			break
		}
		switch args[0] {
		case "upload":
			if len(args) < 2 {
				fmt.Println("사용법: /meta upload <파일경로>")
				break
			}
			p.UploadMetadata(ctx, args[1])
		case "apply":
			if len(args) < 2 {
				fmt.Println("사용법: /meta apply <파일명>")
				break
			}
			p.ApplyMetadata(ctx, args[1])
		case "delete":
			if len(args) < 2 {
				fmt.Println("사용법: /meta delete <파일명>")
				break
			}
			p.DeleteMetadata(ctx, args[1])
		case "close":
			p.CloseMetadataDialog()
		default:
			fmt.Println("사용법: /meta [upload|apply|delete|close]")
		}

	case "/rag":
		if len(args) == 0 {
			p.OpenRagManager(ctx)
			break
		}
		switch args[0] {
		case "domain":
			if len(args) < 2 {
				fmt.Println("사용법: /rag domain <도메인>")
				break
			}
			if err := p.SelectRagDomain(ctx, models.Domain(args[1])); err != nil {
				fmt.Println("유효하지 않은 도메인입니다.")
			}
		case "upload":
			if len(args) < 2 {
				fmt.Println("사용법: /rag upload <파일경로>")
				break
			}
			p.UploadRagFile(ctx, args[1])
		case "delete":
			if len(args) < 2 {
				fmt.Println("사용법: /rag delete <파일명>")
				break
			}
			p.DeleteRagFile(ctx, args[1])
		case "download":
			if len(args) < 2 {
				fmt.Println("사용법: /rag download <파일명>")
				break
			}
			p.DownloadRagFile(ctx, args[1])
		case "close":
			p.CloseRagManager()
		default:
			fmt.Println("사용법: /rag [domain|upload|delete|download|close]")
		}

	case "/stats":
		domain := models.DomainAll
		if len(args) > 0 && args[0] != "all" {
			domain = models.Domain(args[0])
		}
		p.ShowRagStats(ctx, domain)

	case "/search":
		if len(args) == 0 {
			fmt.Println("사용법: /search <질문> [top_k]")
			break
		}
		topK := cfg.SearchTopK
		if n, err := strconv.Atoi(args[len(args)-1]); err == nil && len(args) > 1 {
			topK = n
			args = args[:len(args)-1]
		}
		p.SearchRag(ctx, strings.Join(args, " "), models.DomainAll, topK)

	case "/trace":
		if len(args) == 0 {
			p.OpenTraceViewer()
			break
		}
		switch args[0] {
		case "toggle":
			if len(args) < 2 {
				fmt.Println("사용법: /trace toggle <섹션>")
				break
			}
			p.ToggleTraceSection(traceview.Section(args[1]))
		case "close":
			p.CloseTraceViewer()
		default:
			fmt.Println("사용법: /trace [toggle <섹션>|close]")
		}

	case "/pipeline":
		p.ShowPipelineStatus(ctx)

	case "/test":
		if len(args) == 0 {
			fmt.Println("사용법: /test <질문>")
			break
		}
		p.TestPreprocess(ctx, strings.Join(args, " "))

	default:
		fmt.Printf("알 수 없는 명령어: %s (/help 참고)\n", cmd)
	}
	return false
}

func printHelp() {
	fmt.Print(`질문을 그대로 입력하면 SQL로 변환합니다.
/domain <d|all>          질문에 사용할 RAG 도메인 필터
/schema                  데이터베이스 스키마 패널 토글
/meta                    메타데이터 파일 목록
/meta upload <경로>      메타데이터 업로드 (xlsx)
/meta apply <파일명>     메타데이터 적용
/meta delete <파일명>    메타데이터 삭제
/rag                     RAG 파일 관리 열기
/rag domain <도메인>     RAG 도메인 탭 전환
/rag upload <경로>       RAG 파일 업로드
/rag delete <파일명>     RAG 파일 삭제
/rag download <파일명>   RAG 파일 다운로드
/stats [도메인]          RAG 통계
/search <질문> [k]       RAG 청크 검색
/trace                   전처리 과정 뷰어
/trace toggle <섹션>     뷰어 섹션 접기/펼치기
/pipeline                전처리 에이전트 상태
/test <질문>             전처리 드라이런
/quit                    종료
`)
}
