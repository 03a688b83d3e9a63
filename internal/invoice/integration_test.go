package invoice_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/invoice-tracker/internal/invoice"
	"github.com/zombor/invoice-tracker/internal/scanning"
)

// recordingScanner remembers the image it was given and answers with a fixed result
type recordingScanner struct {
	text string
	err  error
	seen []scanning.Image
}

func (s *recordingScanner) Extract(ctx context.Context, img scanning.Image) (string, error) {
	s.seen = append(s.seen, img)
	if s.err != nil {
		return "", s.err
	}
	return s.text, nil
}

func (s *recordingScanner) Close() error {
	return nil
}

func invoiceJPEG() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 60, 80))
	for x := 0; x < 60; x++ {
		for y := 0; y < 80; y++ {
			img.Set(x, y, color.RGBA{R: 255, G: uint8(y * 3), B: uint8(x * 4), A: 255})
		}
	}
	var buf bytes.Buffer
	Expect(jpeg.Encode(&buf, img, nil)).To(Succeed())
	return buf.Bytes()
}

// twoPagePDF is a minimal PDF with two blank pages
func twoPagePDF() []byte {
	var buf bytes.Buffer
	var offsets []int
	writeObj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n")
	writeObj("<< /Type /Catalog /Pages 2 0 R >>")
	writeObj("<< /Type /Pages /Kids [3 0 R 4 0 R] /Count 2 >>")
	writeObj("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 144 72] /Resources << >> >>")
	writeObj("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 72 144] /Resources << >> >>")

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(offsets)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

func uploadFile(url, filename, contentType string, data []byte) *http.Response {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	Expect(err).NotTo(HaveOccurred())
	_, err = part.Write(data)
	Expect(err).NotTo(HaveOccurred())
	Expect(writer.Close()).To(Succeed())

	resp, err := http.Post(url+"/api/extract-invoice", writer.FormDataContentType(), &body)
	Expect(err).NotTo(HaveOccurred())
	return resp
}

func decodeBody(resp *http.Response) map[string]any {
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	var body map[string]any
	Expect(json.Unmarshal(data, &body)).To(Succeed(), string(data))
	return body
}

var _ = Describe("Extraction pipeline", func() {
	var (
		tmpDir  string
		scratch string
		db      *invoice.BoltDB
		scanner *recordingScanner
		server  *httptest.Server
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		scratch = filepath.Join(tmpDir, "scratch")

		var err error
		db, err = invoice.NewBoltDB(filepath.Join(tmpDir, "invoices.db"))
		Expect(err).NotTo(HaveOccurred())

		normalizer, err := scanning.NewNormalizer(scanning.NormalizerOptions{TempDir: scratch})
		Expect(err).NotTo(HaveOccurred())

		scanner = &recordingScanner{}
		service := invoice.NewService(db, normalizer, scanner, invoice.ServiceOptions{})
		server = httptest.NewServer(invoice.NewServer(service, invoice.ServerOptions{Version: "1.0.0"}))
	})

	AfterEach(func() {
		server.Close()
		db.Close()
	})

	When("a clean JPEG is submitted", func() {
		var jpegData []byte

		BeforeEach(func() {
			jpegData = invoiceJPEG()
			scanner.text = `{"invoice_number":"INV-1","total_amount":100}`
		})

		It("should store exactly what the model extracted", func() {
			resp := uploadFile(server.URL, "invoice.jpg", "image/jpeg", jpegData)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			body := decodeBody(resp)
			Expect(body["success"]).To(BeTrue())
			stored := body["invoice"].(map[string]any)
			Expect(stored["invoice_number"]).To(Equal("INV-1"))
			Expect(stored["total_amount"]).To(BeNumerically("==", 100))
			Expect(stored["id"]).To(MatchRegexp(`^[0-9a-f]{8}-[0-9a-f]{4}-7[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`))
			Expect(stored).To(HaveLen(5), "only id, timestamps and the two extracted fields")

			By("sending the image unchanged")
			Expect(scanner.seen).To(HaveLen(1))
			Expect(scanner.seen[0].Data).To(Equal(jpegData))

			By("persisting the record")
			got, err := db.Get(context.Background(), stored["id"].(string))
			Expect(err).NotTo(HaveOccurred())
			Expect(*got.InvoiceNumber).To(Equal("INV-1"))
		})
	})

	When("the provider is unavailable for a PDF", func() {
		BeforeEach(func() {
			scanner.err = &scanning.ProviderError{Provider: "gemini", StatusCode: http.StatusServiceUnavailable, Body: "overloaded"}
		})

		It("should fail without writing anything", func() {
			resp := uploadFile(server.URL, "invoice.pdf", "application/pdf", twoPagePDF())
			Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))

			body := decodeBody(resp)
			Expect(body["success"]).To(BeFalse())
			Expect(body["error"]).NotTo(BeEmpty())

			By("rendering only the first page")
			Expect(scanner.seen).To(HaveLen(1))
			Expect(scanner.seen[0].MIMEType).To(Equal("image/jpeg"))
			rendered, err := jpeg.Decode(bytes.NewReader(scanner.seen[0].Data))
			Expect(err).NotTo(HaveOccurred())
			Expect(rendered.Bounds().Dx()).To(BeNumerically(">", rendered.Bounds().Dy()))

			By("leaving the store empty")
			invoices, err := db.List(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(invoices).To(BeEmpty())

			By("cleaning up the temporary file")
			entries, err := os.ReadDir(scratch)
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(BeEmpty())
		})
	})

	When("invoices are looked up by id", func() {
		It("should tell malformed ids from missing ones", func() {
			resp, err := http.Get(server.URL + "/api/invoices/not-a-valid-id")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(decodeBody(resp)["error"]).To(Equal("Invalid invoice ID format"))

			resp, err = http.Get(server.URL + "/api/invoices/0190f1b2-7c3d-7a4e-8f5a-1b2c3d4e5f60")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			Expect(decodeBody(resp)["error"]).To(Equal("Invoice not found"))
		})
	})
})
