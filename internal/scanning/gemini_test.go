package scanning

import (
	"errors"
	"net/http"

	"github.com/google/generative-ai-go/genai"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"google.golang.org/api/googleapi"
)

var _ = Describe("Gemini", func() {
	Describe("NewGemini", func() {
		It("requires an API key", func() {
			_, err := NewGemini("", "")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("responseText", func() {
		It("joins the text parts of the first candidate", func() {
			resp := &genai.GenerateContentResponse{
				Candidates: []*genai.Candidate{{
					Content: &genai.Content{Parts: []genai.Part{
						genai.Text("```json\n{\"a\":"),
						genai.Blob{MIMEType: "image/png"},
						genai.Text("1}\n```\n"),
					}},
				}},
			}
			Expect(responseText(resp)).To(Equal("```json\n{\"a\":1}\n```"))
		})

		It("returns nothing when there are no candidates", func() {
			Expect(responseText(&genai.GenerateContentResponse{})).To(BeEmpty())
		})

		It("returns nothing when the candidate has no content", func() {
			resp := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{}}}
			Expect(responseText(resp)).To(BeEmpty())
		})
	})

	Describe("geminiError", func() {
		It("keeps the status and message of API errors", func() {
			err := geminiError(&googleapi.Error{Code: http.StatusServiceUnavailable, Message: "overloaded"})
			var providerErr *ProviderError
			Expect(errors.As(err, &providerErr)).To(BeTrue())
			Expect(providerErr.StatusCode).To(Equal(http.StatusServiceUnavailable))
			Expect(providerErr.Body).To(Equal("overloaded"))
		})

		It("treats other failures as transport errors", func() {
			err := geminiError(errors.New("connection reset"))
			var providerErr *ProviderError
			Expect(errors.As(err, &providerErr)).To(BeTrue())
			Expect(providerErr.StatusCode).To(BeZero())
			Expect(providerErr.Retryable()).To(BeTrue())
		})
	})
})
