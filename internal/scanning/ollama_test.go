package scanning

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

var _ = Describe("Ollama", func() {
	var (
		server  *ghttp.Server
		scanner *Ollama
		img     Image
		text    string
		err     error
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		var newErr error
		scanner, newErr = NewOllama(server.URL()+"/", "llava")
		Expect(newErr).NotTo(HaveOccurred())
		img = Image{Data: []byte("jpeg bytes"), MIMEType: "image/jpeg"}
	})

	AfterEach(func() {
		server.Close()
	})

	JustBeforeEach(func() {
		text, err = scanner.Extract(context.Background(), img)
	})

	When("the model answers", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodPost, "/api/chat"),
				ghttp.VerifyContentType("application/json"),
				func(w http.ResponseWriter, r *http.Request) {
					var req ollamaChatRequest
					Expect(decodeJSON(r, &req)).To(Succeed())
					Expect(req.Model).To(Equal("llava"))
					Expect(req.Stream).To(BeFalse())
					Expect(req.Messages).To(HaveLen(2))
					Expect(req.Messages[1].Content).To(Equal(invoiceScanPrompt))
					Expect(req.Messages[1].Images).To(ConsistOf(base64.StdEncoding.EncodeToString([]byte("jpeg bytes"))))
				},
				ghttp.RespondWithJSONEncoded(http.StatusOK, ollamaChatResponse{
					Message: ollamaMessage{Role: "assistant", Content: "  {\"invoice_number\":\"INV-1\"}\n"},
					Done:    true,
				}),
			))
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should return the trimmed response text", func() {
			Expect(text).To(Equal(`{"invoice_number":"INV-1"}`))
		})
	})

	When("the provider is unavailable", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusServiceUnavailable, "model is loading"))
		})

		It("returns a provider error with the status and body", func() {
			var providerErr *ProviderError
			Expect(errors.As(err, &providerErr)).To(BeTrue())
			Expect(providerErr.StatusCode).To(Equal(http.StatusServiceUnavailable))
			Expect(providerErr.Body).To(Equal("model is loading"))
			Expect(providerErr.Retryable()).To(BeTrue())
		})
	})

	When("the request is rejected", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusBadRequest, "bad model"))
		})

		It("returns a provider error that is not retryable", func() {
			var providerErr *ProviderError
			Expect(errors.As(err, &providerErr)).To(BeTrue())
			Expect(providerErr.Retryable()).To(BeFalse())
		})
	})

	When("the model returns no content", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, ollamaChatResponse{Done: true}))
		})

		It("returns an empty response error", func() {
			Expect(err).To(MatchError(ErrEmptyResponse))
		})
	})

	When("the response body is not JSON", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusOK, "<html>"))
		})

		It("returns the error", func() {
			Expect(err).To(HaveOccurred())
		})
	})

	When("the server cannot be reached", func() {
		BeforeEach(func() {
			server.Close()
		})

		It("returns a retryable provider error", func() {
			var providerErr *ProviderError
			Expect(errors.As(err, &providerErr)).To(BeTrue())
			Expect(providerErr.StatusCode).To(BeZero())
			Expect(providerErr.Retryable()).To(BeTrue())
		})
	})
})

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}
