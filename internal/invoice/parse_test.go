package invoice

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Parse", func() {
	Describe("StripFence", func() {
		inner := "{\n  \"invoice_number\": \"INV-1\",\n  \"total_amount\": 100\n}"

		DescribeTable("returns exactly the wrapped text",
			func(wrapped string) {
				Expect(StripFence(wrapped)).To(Equal(inner))
			},
			Entry("json tag", "```json\n"+inner+"\n```"),
			Entry("no tag", "```\n"+inner+"\n```"),
			Entry("other tag", "```JSON5\n"+inner+"\n```"),
			Entry("surrounding whitespace", "\n  ```json\n"+inner+"\n```  \n"),
			Entry("windows line endings", "```json\r\n"+inner+"\r\n```"),
			Entry("no fence", inner),
		)

		It("handles a fence on a single line", func() {
			Expect(StripFence("```json {\"a\":1}```")).To(Equal(`{"a":1}`))
		})

		It("handles a fence with no closing marker", func() {
			Expect(StripFence("```json\n{\"a\":1}")).To(Equal(`{"a":1}`))
		})
	})

	Describe("ParseInvoice", func() {
		var (
			text string
			inv  *Invoice
			err  error
		)

		JustBeforeEach(func() {
			inv, err = ParseInvoice(text)
		})

		When("the text is a fenced JSON object", func() {
			BeforeEach(func() {
				text = "```json\n{\"invoice_number\":\"INV-1\",\"total_amount\":100}\n```"
			})

			It("should return the invoice", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(*inv.InvoiceNumber).To(Equal("INV-1"))
				Expect(inv.TotalAmount.String()).To(Equal("100"))
			})
		})

		When("the object has unknown fields", func() {
			BeforeEach(func() {
				text = `{"invoice_number":"INV-1","iban":"DE00"}`
			})

			It("should pass them through", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(string(inv.Extra["iban"])).To(Equal(`"DE00"`))
			})
		})

		DescribeTable("invalid output",
			func(raw string) {
				inv, err := ParseInvoice(raw)
				Expect(inv).To(BeNil())
				Expect(err).To(MatchError(ErrParse))

				var stageErr *StageError
				Expect(errors.As(err, &stageErr)).To(BeTrue())
				Expect(stageErr.Stage).To(Equal(StageParsing))
				Expect(stageErr.Details).To(Equal(raw))
			},
			Entry("prose", "Sorry, I can't help with that."),
			Entry("truncated object", `{"invoice_number":"INV-1",`),
			Entry("trailing garbage", `{"invoice_number":"INV-1"} thanks!`),
			Entry("array", `[{"invoice_number":"INV-1"}]`),
			Entry("string", `"INV-1"`),
			Entry("empty object", "```json\n{}\n```"),
			Entry("only a blank key", `{"":"x"}`),
			Entry("empty text", ""),
		)
	})
})
