package invoice

import (
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Invoice", func() {
	Describe("decoding", func() {
		var (
			data []byte
			inv  Invoice
			err  error
		)

		JustBeforeEach(func() {
			inv = Invoice{}
			err = json.Unmarshal(data, &inv)
		})

		When("the record is fully populated", func() {
			BeforeEach(func() {
				data = []byte(`{
					"vendor_details": {"name": "Acme Co", "address": "1 Main St\nSpringfield", "contact_info": {"phone": "555-0100", "email": "billing@acme.test"}},
					"customer_details": {"name": "Globex", "contact_info": "call Hank"},
					"invoice_number": "INV-42",
					"invoice_date": "2024-02-01",
					"line_items": [{"description": "Widget", "quantity": 2, "unit_price": "12.50", "amount": 25.00}],
					"taxes": [{"description": "VAT", "amount": 5}],
					"subtotal": 25,
					"total_amount": "$1,030.00"
				}`)
			})

			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should decode address blocks", func() {
				Expect(*inv.VendorDetails.Name).To(Equal("Acme Co"))
				Expect(*inv.VendorDetails.Address).To(Equal("1 Main St\nSpringfield"))
				Expect(inv.VendorDetails.ContactInfo.Fields).To(HaveKeyWithValue("phone", "555-0100"))
				Expect(inv.CustomerDetails.ContactInfo.Text).To(Equal("call Hank"))
				Expect(inv.CustomerDetails.ContactInfo.Fields).To(BeNil())
			})

			It("should decode numbers given as strings", func() {
				Expect(inv.LineItems[0].UnitPrice.StringFixed(2)).To(Equal("12.50"))
				Expect(inv.TotalAmount.StringFixed(2)).To(Equal("1030.00"))
			})

			It("should not keep anything extra", func() {
				Expect(inv.Extra).To(BeEmpty())
			})
		})

		When("the record has fields that are not part of the model", func() {
			BeforeEach(func() {
				data = []byte(`{"invoice_number":"INV-1","bank_account":{"iban":"DE00"},"currency":"EUR"}`)
			})

			It("should keep them verbatim", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(inv.Extra).To(HaveKey("bank_account"))
				Expect(string(inv.Extra["bank_account"])).To(Equal(`{"iban":"DE00"}`))
				Expect(string(inv.Extra["currency"])).To(Equal(`"EUR"`))
			})
		})

		When("a known field has the wrong shape", func() {
			BeforeEach(func() {
				data = []byte(`{"total_amount":"about a hundred","vendor_details":"Acme","line_items":[{"description":"x","colour":"red"}]}`)
			})

			It("should keep the raw values instead of guessing", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(inv.TotalAmount).To(BeNil())
				Expect(inv.VendorDetails).To(BeNil())
				Expect(inv.LineItems).To(BeNil())
				Expect(inv.Extra).To(HaveKey("total_amount"))
				Expect(inv.Extra).To(HaveKey("vendor_details"))
				Expect(inv.Extra).To(HaveKey("line_items"))
			})
		})

		When("fields are null", func() {
			BeforeEach(func() {
				data = []byte(`{"invoice_number":null,"subtotal":null,"vendor_details":null}`)
			})

			It("should leave them absent", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(inv.InvoiceNumber).To(BeNil())
				Expect(inv.Subtotal).To(BeNil())
				Expect(inv.VendorDetails).To(BeNil())
			})
		})

		When("a labelled contact value is null", func() {
			BeforeEach(func() {
				data = []byte(`{"vendor_details":{"name":"A","contact_info":{"phone":null}}}`)
			})

			It("should keep the whole block verbatim", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(inv.VendorDetails).To(BeNil())
				Expect(inv.Extra).To(HaveKey("vendor_details"))

				out, marshalErr := json.Marshal(inv)
				Expect(marshalErr).NotTo(HaveOccurred())
				Expect(out).To(MatchJSON(`{"vendor_details":{"name":"A","contact_info":{"phone":null}}}`))
			})
		})

		When("the data is not an object", func() {
			BeforeEach(func() {
				data = []byte(`["INV-1"]`)
			})

			It("should return an error", func() {
				Expect(err).To(HaveOccurred())
			})
		})
	})

	Describe("encoding", func() {
		It("should omit absent fields", func() {
			data, err := json.Marshal(Invoice{InvoiceNumber: String("INV-1"), TotalAmount: MustNumber("100")})
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(MatchJSON(`{"invoice_number":"INV-1","total_amount":100}`))
		})

		It("should keep the scale of amounts", func() {
			data, err := json.Marshal(Invoice{Subtotal: MustNumber("12.50")})
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal(`{"subtotal":12.50}`))
		})

		It("should write the id and timestamps", func() {
			created := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
			data, err := json.Marshal(Invoice{ID: "00000000-0000-7000-8000-000000000001", CreatedAt: created, UpdatedAt: created})
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(MatchJSON(`{
				"id": "00000000-0000-7000-8000-000000000001",
				"created_at": "2024-03-01T09:30:00Z",
				"updated_at": "2024-03-01T09:30:00Z"
			}`))
		})

		It("should write extra fields back, including keys with path characters", func() {
			inv := Invoice{
				InvoiceNumber: String("INV-1"),
				Extra: map[string]json.RawMessage{
					"currency":   json.RawMessage(`"EUR"`),
					"ref.number": json.RawMessage(`7`),
				},
			}
			data, err := json.Marshal(inv)
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(MatchJSON(`{"invoice_number":"INV-1","currency":"EUR","ref.number":7}`))
		})

		It("should prefer a typed field over an extra copy of the same key", func() {
			inv := Invoice{
				InvoiceNumber: String("INV-1"),
				Extra:         map[string]json.RawMessage{"invoice_number": json.RawMessage(`42`)},
			}
			data, err := json.Marshal(inv)
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(MatchJSON(`{"invoice_number":"INV-1"}`))
		})

		It("should round trip a decoded record", func() {
			original := `{"vendor_details":{"name":"Acme","contact_info":{"phone":"1"}},"line_items":[{"description":"Widget","quantity":2,"amount":25.00}],"total_amount":25.00,"reference":{"po":"7"}}`
			var inv Invoice
			Expect(json.Unmarshal([]byte(original), &inv)).To(Succeed())
			data, err := json.Marshal(inv)
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(MatchJSON(original))
		})
	})

	Describe("Number", func() {
		DescribeTable("parsing",
			func(input, expected string) {
				n, err := NewNumber(input)
				Expect(err).NotTo(HaveOccurred())
				Expect(n.String()).To(Equal(expected))
			},
			Entry("plain", "42", "42"),
			Entry("decimal", "12.5", "12.5"),
			Entry("thousands separators", "1,234.50", "1234.5"),
			Entry("currency symbol", "$99", "99"),
			Entry("euro with spaces", "€ 1 000", "1000"),
			Entry("negative", "-3.25", "-3.25"),
		)

		It("should reject text", func() {
			_, err := NewNumber("n/a")
			Expect(err).To(HaveOccurred())
		})

		It("should reject a JSON boolean", func() {
			var n Number
			Expect(json.Unmarshal([]byte(`true`), &n)).NotTo(Succeed())
		})
	})

	Describe("Clone", func() {
		It("should not share nested values", func() {
			inv := &Invoice{VendorDetails: &Party{Name: String("Acme")}}
			clone, err := inv.Clone()
			Expect(err).NotTo(HaveOccurred())
			*clone.VendorDetails.Name = "Globex"
			Expect(*inv.VendorDetails.Name).To(Equal("Acme"))
		})
	})
})
