package scanning

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

var _ = Describe("Ollama", func() {
	var (
		server    *ghttp.Server
		engine    *Ollama
		worker    Worker
		imagePath string
		rec       Recognition
		err       error
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		engine, err = NewOllama(server.URL()+"/", "qwen2.5vl")
		Expect(err).NotTo(HaveOccurred())

		imagePath = filepath.Join(GinkgoT().TempDir(), "invoice.png")
		writePNG(imagePath, 40, 40)

		worker, err = engine.Acquire(context.Background())
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(worker.Close()).To(Succeed())
		server.Close()
	})

	JustBeforeEach(func() {
		rec, err = worker.Recognize(context.Background(), imagePath, PrimaryOptions())
	})

	When("the model returns a transcription", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodPost, "/api/chat"),
				ghttp.VerifyContentType("application/json"),
				func(w http.ResponseWriter, r *http.Request) {
					defer GinkgoRecover()
					body, err := io.ReadAll(r.Body)
					Expect(err).NotTo(HaveOccurred())
					var req ollamaChatRequest
					Expect(json.Unmarshal(body, &req)).To(Succeed())
					Expect(req.Model).To(Equal("qwen2.5vl"))
					Expect(req.Stream).To(BeFalse())
					Expect(req.Messages).To(HaveLen(2))
					Expect(req.Messages[1].Images).To(HaveLen(1))
					Expect(req.Messages[1].Content).To(ContainSubstring("eng, heb, ara"))
				},
				ghttp.RespondWithJSONEncoded(http.StatusOK, ollamaChatResponse{
					Message: ollamaMessage{
						Role:    "assistant",
						Content: "```json\n{\"text\": \"חשבונית 13/06/2025 (copy)\", \"readable\": true}\n```",
					},
					Done: true,
				}),
			))
		})

		It("returns the filtered text", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Text).To(Equal("חשבונית 13/06/2025 copy"))
			Expect(rec.Confidence).To(BeNil())
		})
	})

	When("the server fails", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusServiceUnavailable, "model loading"))
		})

		It("returns a transport error", func() {
			var re *RecognitionError
			Expect(errors.As(err, &re)).To(BeTrue())
			Expect(re.Code).To(Equal(CodeTransport))
			Expect(IsFatal(err)).To(BeFalse())
		})
	})

	When("the server rejects the image", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusBadRequest, `{"error":"invalid image input"}`))
		})

		It("returns a fatal unsupported image error", func() {
			var re *RecognitionError
			Expect(errors.As(err, &re)).To(BeTrue())
			Expect(re.Code).To(Equal(CodeUnsupportedImage))
			Expect(IsFatal(err)).To(BeTrue())
		})
	})

	When("the model says the image is unreadable", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, ollamaChatResponse{
				Message: ollamaMessage{Role: "assistant", Content: `{"text": "", "readable": false}`},
				Done:    true,
			}))
		})

		It("returns a fatal image quality error", func() {
			Expect(IsFatal(err)).To(BeTrue())
		})
	})
})
